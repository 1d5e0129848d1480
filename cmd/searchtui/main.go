package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/flychenzhu/tengen/game"
	"github.com/flychenzhu/tengen/inference"
	"github.com/flychenzhu/tengen/logging"
	"github.com/flychenzhu/tengen/search"

	tea "github.com/charmbracelet/bubbletea"
)

// searchtui runs continuous self-play games on background workers and
// shows a live terminal dashboard of throughput and recent results.

var totalMoves atomic.Int64
var totalPlayouts atomic.Int64
var totalGames atomic.Int64

type gameUpdate struct {
	WorkerID int
	Winner   game.Player
	Turns    int
	Score    float64
}

type model struct {
	gamesPlayed int
	moves       int64
	playouts    int64
	startTime   time.Time
	recentGames []string
	updates     chan gameUpdate
}

func initialModel(updates chan gameUpdate) model {
	return model{startTime: time.Now(), updates: updates}
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForUpdate(updates chan gameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		m.moves = totalMoves.Load()
		m.playouts = totalPlayouts.Load()
		return m, tickCmd()
	case gameUpdate:
		m.gamesPlayed++
		logMsg := fmt.Sprintf("Worker %d: winner %s, turns %d, score %+.1f", msg.WorkerID, msg.Winner, msg.Turns, msg.Score)
		m.recentGames = append([]string{logMsg}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	movesPerSec := 0.0
	playoutsPerSec := 0.0
	if duration.Seconds() >= 1 {
		movesPerSec = float64(m.moves) / duration.Seconds()
		playoutsPerSec = float64(m.playouts) / duration.Seconds()
	}

	s := fmt.Sprintf("Games Played:  %d\n", m.gamesPlayed)
	s += fmt.Sprintf("Total Moves:   %d\n", m.moves)
	s += fmt.Sprintf("Playouts:      %d\n", m.playouts)
	s += fmt.Sprintf("Duration:      %s\n", duration.Round(time.Second))
	s += fmt.Sprintf("Moves/Sec:     %.2f\n", movesPerSec)
	s += fmt.Sprintf("Playouts/Sec:  %.2f\n\n", playoutsPerSec)
	s += "Recent Games:\n"
	for _, g := range m.recentGames {
		s += g + "\n"
	}
	s += "\nPress q to quit.\n"
	return s
}

func main() {
	size := flag.Int("size", 9, "Board size")
	visits := flag.Int64("visits", 200, "Max visits per move")
	workers := flag.Int("workers", 4, "Number of self-play workers")
	threadsPerWorker := flag.Int("threads", 1, "Search threads per worker")
	modelPath := flag.String("model", "", "Path to ONNX model; empty uses the stub evaluator")
	logPath := flag.String("log", "searchtui.log", "Log file (keeps the TUI clean)")
	flag.Parse()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	logFile, err := os.OpenFile(*logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := slog.New(logging.NewPrettyJSONHandler(logFile, nil))

	var evaluator inference.Evaluator
	if *modelPath != "" {
		pool, err := inference.NewOnnxPool(*modelPath, 1, inference.OnnxClientConfig{NNXLen: *size, NNYLen: *size})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load model: %v\n", err)
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

	updates := make(chan gameUpdate, *workers)
	var workerWG sync.WaitGroup
	for i := 0; i < *workers; i++ {
		workerWG.Add(1)
		go func(workerID int) {
			defer workerWG.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				winner, turns, score, err := playOneGame(ctx, workerID, evaluator, *size, *visits, *threadsPerWorker, logger)
				if err != nil {
					logger.Error("game failed", "worker", workerID, "error", err)
					continue
				}
				totalGames.Add(1)
				select {
				case updates <- gameUpdate{WorkerID: workerID, Winner: winner, Turns: turns, Score: score}:
				default:
				}
			}
		}(i)
	}

	p := tea.NewProgram(initialModel(updates), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui failed: %v\n", err)
	}
	cancel()
	workerWG.Wait()
	logger.Info("shutdown complete", "games", totalGames.Load())
}

func playOneGame(ctx context.Context, workerID int, evaluator inference.Evaluator, size int, visits int64, threads int, logger *slog.Logger) (game.Player, int, float64, error) {
	params := search.DefaultParams()
	params.NumThreads = threads
	params.MaxVisits = visits

	seed := uint64(time.Now().UnixNano()) + uint64(workerID)<<32
	s := search.NewSearch(params, evaluator, logger, seed)
	board := game.NewBoard(size, size)
	hist := game.NewHistory(board, game.DefaultRules())
	if err := s.SetPosition(game.Black, board, hist); err != nil {
		return game.Empty, 0, 0, err
	}

	pla := game.Black
	maxTurns := size * size * 3
	for turn := 0; turn < maxTurns; turn++ {
		select {
		case <-ctx.Done():
			return game.Empty, turn, 0, ctx.Err()
		default:
		}
		if err := s.RunWholeSearch(pla, nil, false, search.TimeControls{}, 1.0); err != nil {
			return game.Empty, turn, 0, err
		}
		totalPlayouts.Add(s.LastSearchNumPlayouts())
		moveLoc := s.ChosenMoveLoc()
		if moveLoc == game.NullLoc || !s.MakeMove(moveLoc, pla) {
			break
		}
		totalMoves.Add(1)
		h := s.RootHistory()
		if h.IsGameFinished {
			return h.Winner, turn + 1, h.FinalWhiteMinusBlackScore, nil
		}
		pla = game.Opp(pla)
	}
	return game.Empty, maxTurns, 0, nil
}
