package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"
	"github.com/flychenzhu/tengen/liveview"
	"github.com/flychenzhu/tengen/logging"
	"github.com/flychenzhu/tengen/search"
	"github.com/flychenzhu/tengen/store"
)

func main() {
	size := flag.Int("size", 9, "Board size")
	visits := flag.Int64("visits", 800, "Max visits per move")
	threads := flag.Int("threads", 4, "Search threads")
	seed := flag.Uint64("seed", 1, "Random seed")
	numMoves := flag.Int("moves", 20, "Number of self-play moves to search")
	modelPath := flag.String("model", "", "Path to ONNX model; empty uses the stub evaluator")
	paramsPath := flag.String("params", "", "Optional yaml search params file")
	traceDir := flag.String("trace-dir", "", "If set, write per-move search traces as parquet here")
	listen := flag.String("listen", "", "If set, serve live root stats over websocket at this address (e.g. :8080)")
	flag.Parse()

	logger := slog.New(logging.NewPrettyJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	params := search.DefaultParams()
	if *paramsPath != "" {
		var err error
		params, err = search.LoadParams(*paramsPath)
		if err != nil {
			logger.Error("failed to load params", "error", err)
			os.Exit(1)
		}
	}
	params.NumThreads = *threads
	params.MaxVisits = *visits

	var evaluator inference.Evaluator
	if *modelPath != "" {
		pool, err := inference.NewOnnxPool(*modelPath, 1, inference.OnnxClientConfig{
			NNXLen: *size, NNYLen: *size,
		})
		if err != nil {
			logger.Error("failed to load model", "model", *modelPath, "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		evaluator = pool
	} else {
		stub := inference.NewStubEvaluator(*size, *size)
		stub.HashValues = true
		stub.PolicyBias = 0.5
		evaluator = stub
	}

	s := search.NewSearch(params, evaluator, logger, *seed)
	board := game.NewBoard(*size, *size)
	hist := game.NewHistory(board, game.DefaultRules())
	if err := s.SetPosition(game.Black, board, hist); err != nil {
		logger.Error("failed to set position", "error", err)
		os.Exit(1)
	}

	var hub *liveview.Hub
	done := make(chan struct{})
	defer close(done)
	if *listen != "" {
		hub = liveview.NewHub(logger)
		go hub.Run(done)
		go hub.Watch(s, 250*time.Millisecond, done)
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.Handler())
		go func() {
			logger.Info("liveview listening", "addr", *listen)
			if err := http.ListenAndServe(*listen, mux); err != nil {
				logger.Error("liveview server failed", "error", err)
			}
		}()
	}

	var traceRows []store.SearchTraceRow
	gameID := fmt.Sprintf("demo_%d", *seed)
	pla := game.Black
	for turn := 0; turn < *numMoves; turn++ {
		start := time.Now()
		if err := s.RunWholeSearch(pla, nil, false, search.TimeControls{}, 1.0); err != nil {
			logger.Error("search failed", "turn", turn, "error", err)
			os.Exit(1)
		}
		moveLoc := s.ChosenMoveLoc()
		values, _ := s.RootValues()
		logger.Info("searched move",
			"turn", turn,
			"pla", pla.String(),
			"move", int(moveLoc),
			"visits", values.Visits,
			"playouts", s.LastSearchNumPlayouts(),
			"winLoss", values.WinLossValue,
			"scoreMean", values.ScoreMean,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)

		if *traceDir != "" {
			children := s.RootChildrenInfo()
			summaries := make([]store.RootChildSummary, 0, len(children))
			for _, c := range children {
				summaries = append(summaries, store.RootChildSummary{
					Move: int32(c.Move), Visits: c.Visits, EdgeVisits: c.EdgeVisits,
					Weight: c.Weight, Utility: c.Utility, Policy: c.Policy,
				})
			}
			childJSON, err := store.EncodeRootChildren(summaries)
			if err != nil {
				logger.Warn("failed to encode root children", "error", err)
			}
			traceRows = append(traceRows, store.SearchTraceRow{
				GameID:           gameID,
				Turn:             int32(turn),
				Pla:              int32(pla),
				XSize:            int32(*size),
				YSize:            int32(*size),
				ChosenMove:       int32(moveLoc),
				Visits:           values.Visits,
				Playouts:         s.LastSearchNumPlayouts(),
				WinLossValue:     values.WinLossValue,
				ScoreMean:        values.ScoreMean,
				ScoreStdev:       values.ScoreStdev,
				Lead:             values.Lead,
				DurationMs:       time.Since(start).Milliseconds(),
				RootChildrenJSON: childJSON,
			})
		}

		if moveLoc == game.NullLoc || !s.MakeMove(moveLoc, pla) {
			logger.Warn("no playable move, stopping", "turn", turn)
			break
		}
		if s.RootHistory().IsGameFinished {
			logger.Info("game finished", "turn", turn)
			break
		}
		pla = game.Opp(pla)
	}

	if *traceDir != "" && len(traceRows) > 0 {
		outPath, err := store.WriteTraceBatchAtomic(*traceDir, traceRows)
		if err != nil {
			logger.Error("trace flush failed", "error", err)
			os.Exit(1)
		}
		logger.Info("trace flush ok", "path", outPath, "rows", len(traceRows))
	}
}
