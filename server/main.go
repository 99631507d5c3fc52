package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/ant0ine/go-json-rest/rest"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/stats"
	"github.com/ryogrid/SemOptDB/inference"
	"github.com/ryogrid/SemOptDB/planner"
	"github.com/ryogrid/SemOptDB/planner/optimizer"
	"github.com/ryogrid/SemOptDB/semopt"
	"github.com/ryogrid/SemOptDB/semopt/semopt_util"
	"github.com/ryogrid/SemOptDB/server/signal_handle"
	"github.com/ugorji/go/codec"
)

type RunInput struct {
	Plan planner.PlanSpec
	// mincost, maxquality, mintime, pareto, maxquality-at-cost or mincost-at-quality
	Policy string
	// budget or quality floor of constrained policies
	Bound float64
}

type Row struct {
	C []interface{}
}

type RunOutput struct {
	Columns []string
	Result  []Row
	Report  *stats.Report
	Error   string
}

var db *semopt.SemOptDB
var reqManager *semopt.RequestManager

func decodeAndRun(req *rest.Request) (*RunOutput, int, error) {
	input := RunInput{}
	if err := req.DecodeJsonPayload(&input); err != nil {
		return nil, http.StatusBadRequest, err
	}
	if input.Plan.Source == "" {
		return nil, http.StatusBadRequest, errors.New("Plan.source is required")
	}
	policy, err := optimizer.NewPolicyByName(input.Policy, input.Bound)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	ret := <-reqManager.AppendRequest(req.Request.Context(), &input.Plan, policy)
	res := ret.GetResult()
	if res == nil {
		return nil, http.StatusBadRequest, ret.GetError()
	}
	output := &RunOutput{Columns: res.OutputSchema().ColumnNames(), Result: make([]Row, 0), Report: res.Report, Error: "SUCCESS"}
	for _, row := range semopt_util.ConvRecordListToRows(res.OutputSchema(), res.Records) {
		output.Result = append(output.Result, Row{row})
	}
	if ret.GetError() != nil {
		// records produced before the failure are still returned
		output.Error = ret.GetError().Error()
	}
	return output, http.StatusOK, nil
}

func postRun(w rest.ResponseWriter, req *rest.Request) {
	if signal_handle.IsStopped() {
		rest.Error(w, "Server is stopped", http.StatusGone)
		return
	}
	output, status, err := decodeAndRun(req)
	if err != nil {
		common.ShPrintf(common.INFO, "postRun: %v\n", err)
		rest.Error(w, err.Error(), status)
		return
	}
	w.WriteJson(output)
}

func postRunMsgPack(w rest.ResponseWriter, req *rest.Request) {
	if signal_handle.IsStopped() {
		http.Error(w.(http.ResponseWriter), "Server is stopped", http.StatusGone)
		return
	}
	output, status, err := decodeAndRun(req)
	if err != nil {
		common.ShPrintf(common.INFO, "postRunMsgPack: %v\n", err)
		http.Error(w.(http.ResponseWriter), err.Error(), status)
		return
	}

	buf := new(bytes.Buffer)
	var h codec.Handle = new(codec.MsgpackHandle)
	if err := codec.NewEncoder(buf, h).Encode(output); err != nil {
		common.ShPrintf(common.ERROR, "postRunMsgPack: %v\n", err)
		http.Error(w.(http.ResponseWriter), err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.(http.ResponseWriter).Write(buf.Bytes())
}

// newHandler serves the rest api and the metrics of db
func newHandler() (http.Handler, error) {
	api := rest.NewApi()

	// the Middleware stack
	api.Use(rest.DefaultDevStack...)
	api.Use(&rest.JsonpMiddleware{
		CallbackNameKey: "cb",
	})
	api.Use(&rest.CorsMiddleware{
		RejectNonCorsRequests: false,
		OriginValidator: func(origin string, request *rest.Request) bool {
			return true
		},
		AllowedMethods:                []string{"POST"},
		AllowedHeaders:                []string{"Accept", "content-type"},
		AccessControlAllowCredentials: true,
		AccessControlMaxAge:           3600,
	})

	router, err := rest.MakeRouter(
		rest.Post("/Run", postRun),
		rest.Post("/RunMsgPack", postRunMsgPack),
	)
	if err != nil {
		return nil, err
	}
	api.SetApp(router)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(db.GetMetricsRegistry(), promhttp.HandlerOpts{}))
	mux.Handle("/", api.MakeHandler())
	return mux, nil
}

func launchDBAndListen(addr string) {
	handler, err := newHandler()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Server started on %s", addr)
	log.Fatal(http.ListenAndServe(addr, handler))
}

func main() {
	configPath := flag.String("config", "", "yaml config file")
	flag.Parse()

	cfg := common.NewDefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = common.LoadConfig(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	var err error
	db, err = semopt.NewSemOptDB(cfg, inference.NewSimulatedClient(nil))
	if err != nil {
		log.Fatal(err)
	}
	reqManager = semopt.NewRequestManager(db)
	reqManager.StartTh()

	exitNotifyCh := make(chan bool, 1)

	// start signal handler thread
	go signal_handle.SignalHandlerTh(db, reqManager, exitNotifyCh)

	// start server
	go launchDBAndListen(cfg.ListenAddr)

	// wait shutdown operation finished notification
	<-exitNotifyCh

	fmt.Println("Server is stopped gracefully")
	// exit process
	os.Exit(0)
}
