package main

import (
	"os"
	"path/filepath"
	"testing"

	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
)

func writeFile(t *testing.T, name string, content string) string {
	path := filepath.Join(t.TempDir(), name)
	testingpkg.Ok(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadPlanSpecYAML(t *testing.T) {
	path := writeFile(t, "plan.yaml", `source: papers
operations:
  - kind: convert
    desc: extract title
    depends_on: [contents]
    schema:
      name: Titled
      columns:
        - name: title
          type: varchar
          required: true
  - kind: limit
    limit: 3
`)
	spec, err := readPlanSpec(path)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, "papers", spec.Source)
	testingpkg.Equals(t, 2, len(spec.Operations))
	testingpkg.Equals(t, "Titled", spec.Operations[0].Schema.Name)
	testingpkg.Assert(t, spec.Operations[0].Schema.Columns[0].Required, "title is required")
	testingpkg.Equals(t, int64(3), spec.Operations[1].Limit)
}

func TestReadPlanSpecJSON(t *testing.T) {
	path := writeFile(t, "plan.json", `{"source": "papers", "operations": [{"kind": "filter", "condition": "the paper is about databases"}]}`)
	spec, err := readPlanSpec(path)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, "papers", spec.Source)
	testingpkg.Equals(t, "the paper is about databases", spec.Operations[0].Condition)
}

func TestReadPlanSpecErrors(t *testing.T) {
	_, err := readPlanSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	testingpkg.Nok(t, err)

	_, err = readPlanSpec(writeFile(t, "broken.yaml", "source: [papers"))
	testingpkg.Nok(t, err)
}
