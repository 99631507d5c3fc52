package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/planner/optimizer"
	"github.com/ryogrid/SemOptDB/semopt"
	"gopkg.in/yaml.v3"
)

// readPlanSpec accepts YAML or JSON, which is a subset of YAML
func readPlanSpec(path string) (*planner.PlanSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading plan %s", path)
	}
	spec := &planner.PlanSpec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, errors.Wrapf(err, "parsing plan %s", path)
	}
	return spec, nil
}

func run() error {
	configPath := flag.String("config", "", "yaml config file")
	planPath := flag.String("plan", "", "plan spec file (yaml or json)")
	sourceKind := flag.String("source-kind", "directory", "directory or jsonl")
	sourcePath := flag.String("source-path", "", "directory or jsonl file to register")
	sourceID := flag.String("source-id", "", "id of the registered source, used by the plan")
	schemaPath := flag.String("schema", "", "yaml schema of a jsonl source")
	policyName := flag.String("policy", "mincost", "mincost, maxquality, mintime, pareto, maxquality-at-cost or mincost-at-quality")
	bound := flag.Float64("bound", 0, "budget or quality floor of constrained policies")
	sleepScale := flag.Float64("sleep-scale", 0, "simulated model latency multiplier")
	flag.Parse()

	if *planPath == "" {
		return errors.New("-plan is required")
	}
	cfg := common.NewDefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = common.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	if *sourcePath != "" {
		sc := common.SourceConfig{ID: *sourceID, Kind: *sourceKind, Path: *sourcePath}
		if sc.ID == "" {
			sc.ID = *sourcePath
		}
		if *schemaPath != "" {
			data, err := os.ReadFile(*schemaPath)
			if err != nil {
				return errors.Wrapf(err, "reading schema %s", *schemaPath)
			}
			sc.Schema = &common.SchemaConfig{}
			if err := yaml.Unmarshal(data, sc.Schema); err != nil {
				return errors.Wrapf(err, "parsing schema %s", *schemaPath)
			}
		}
		cfg.Sources = append(cfg.Sources, sc)
	}
	policy, err := optimizer.NewPolicyByName(*policyName, *bound)
	if err != nil {
		return err
	}
	spec, err := readPlanSpec(*planPath)
	if err != nil {
		return err
	}

	client := inference.NewSimulatedClient(nil)
	client.SleepScale = *sleepScale
	db, err := semopt.NewSemOptDB(cfg, client)
	if err != nil {
		return err
	}
	defer db.Shutdown()

	res, err := db.RunSpec(context.Background(), spec, policy)
	if res != nil {
		semopt.PrintRunResult(res.OutputSchema(), res)
	}
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}
