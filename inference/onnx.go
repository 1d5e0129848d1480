package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flychenzhu/tengen/game"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultBatchSize    = 64
	DefaultBatchTimeout = 1 * time.Millisecond
)

// OnnxClientConfig configures a batching ONNX evaluator.
type OnnxClientConfig struct {
	NNXLen        int
	NNYLen        int
	BatchSize     int
	BatchTimeout  time.Duration
	WithOwnership bool
}

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy    []float32
	value     []float32
	misc      []float32
	ownership []float32
	err       error
}

// OnnxClient runs evaluations through ONNX Runtime, batching
// concurrent requests into single session runs.
//
// Model contract: input "input" of shape [N, NumInputPlanes, nnYLen,
// nnXLen]; output "policy" [N, nnXLen*nnYLen+1] (logits already
// softmaxed by the exporter), "value" [N, 3] (win/loss/noresult from
// the mover's perspective), "misc" [N, 5] (scoreMean, scoreStdev,
// lead, shortterm winloss error, shortterm score error), and
// optionally "ownership" [N, nnXLen*nnYLen].
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	cfg          OnnxClientConfig
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.NNXLen <= 0 || cfg.NNYLen <= 0 {
		return nil, fmt.Errorf("onnx client requires positive nn dimensions, got %dx%d", cfg.NNXLen, cfg.NNYLen)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}

	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
	} else {
		cwd, _ := os.Getwd()
		candidates := []string{
			"libonnxruntime.so",
			"libonnxruntime.so.1",
		}
		for _, name := range candidates {
			abs := filepath.Join(cwd, name)
			if _, err := os.Stat(abs); err == nil {
				ort.SetSharedLibraryPath(abs)
				break
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Workers provide the parallelism; keep ORT single threaded.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	inputs := []string{"input"}
	outputs := []string{"policy", "value", "misc"}
	if cfg.WithOwnership {
		outputs = append(outputs, "ownership")
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
	}
	go client.batchLoop()
	return client, nil
}

func (c *OnnxClient) Close() error {
	return c.session.Destroy()
}

func (c *OnnxClient) NNXLen() int { return c.cfg.NNXLen }
func (c *OnnxClient) NNYLen() int { return c.cfg.NNYLen }

func (c *OnnxClient) SupportsShorttermError() bool { return true }

func (c *OnnxClient) inputSize() int {
	return NumInputPlanes * c.cfg.NNXLen * c.cfg.NNYLen
}

func (c *OnnxClient) policySize() int {
	return PolicySize(c.cfg.NNXLen, c.cfg.NNYLen)
}

func (c *OnnxClient) Evaluate(b *game.Board, hist *game.History, pla game.Player, params InputParams) (*NNOutput, error) {
	if b.XSize > c.cfg.NNXLen || b.YSize > c.cfg.NNYLen {
		return nil, fmt.Errorf("board %dx%d exceeds nn dimensions %dx%d", b.XSize, b.YSize, c.cfg.NNXLen, c.cfg.NNYLen)
	}

	input := make([]float32, c.inputSize())
	fb, fh := b, hist
	if params.Symmetry != 0 {
		fb, fh = symmetrize(b, hist, params.Symmetry)
	}
	Featurize(fb, fh, pla, c.cfg.NNXLen, c.cfg.NNYLen, input)

	respChan := make(chan inferenceResponse, 1)
	c.requestsChan <- inferenceRequest{input: input, respChan: respChan}
	resp := <-respChan
	if resp.err != nil {
		return nil, resp.err
	}

	// Map the raw heads back into board coordinates before any
	// legality masking happens.
	if params.Symmetry != 0 {
		unsymmetrizeResponse(&resp, b, c.cfg.NNXLen, c.cfg.NNYLen, params.Symmetry)
	}
	return c.assembleOutput(b, hist, pla, params, resp), nil
}

func (c *OnnxClient) assembleOutput(b *game.Board, hist *game.History, pla game.Player, params InputParams, resp inferenceResponse) *NNOutput {
	out := &NNOutput{
		NNHash:      game.MixedHash128(0x8f1d3ce09a476b25, b.PosHash.Hi, b.PosHash.Lo, uint64(pla)),
		PolicyProbs: make([]float32, c.policySize()),
		NNXLen:      c.cfg.NNXLen,
		NNYLen:      c.cfg.NNYLen,
	}

	// Mask out illegal moves and renormalize whatever mass survives.
	var sum float64
	for pos := range out.PolicyProbs {
		loc := PosToLoc(pos, b.XSize, b.YSize, c.cfg.NNXLen, c.cfg.NNYLen)
		if loc == game.NullLoc || (loc != game.PassLoc && !hist.IsLegal(b, loc, pla)) {
			out.PolicyProbs[pos] = -1
			continue
		}
		p := resp.policy[pos]
		if p < 0 {
			p = 0
		}
		out.PolicyProbs[pos] = p
		sum += float64(p)
	}
	if sum > 0 {
		for pos, p := range out.PolicyProbs {
			if p >= 0 {
				out.PolicyProbs[pos] = float32(float64(p) / sum)
			}
		}
	} else {
		// Degenerate net output; fall back to uniform over legal moves.
		legal := 0
		for _, p := range out.PolicyProbs {
			if p >= 0 {
				legal++
			}
		}
		for pos, p := range out.PolicyProbs {
			if p >= 0 {
				out.PolicyProbs[pos] = 1 / float32(legal)
			}
		}
	}

	// Value head is from the mover's perspective; flip to white.
	win, loss, noResult := resp.value[0], resp.value[1], resp.value[2]
	if pla == game.Black {
		win, loss = loss, win
	}
	out.WhiteWinProb = win
	out.WhiteLossProb = loss
	out.WhiteNoResultProb = noResult

	scoreMean, scoreStdev := resp.misc[0], resp.misc[1]
	if pla == game.Black {
		scoreMean = -scoreMean
	}
	out.WhiteScoreMean = scoreMean
	out.WhiteScoreMeanSq = scoreMean*scoreMean + scoreStdev*scoreStdev
	lead := resp.misc[2]
	if pla == game.Black {
		lead = -lead
	}
	out.WhiteLead = lead
	out.ShorttermWinlossError = resp.misc[3]
	out.ShorttermScoreError = resp.misc[4]

	if params.IncludeOwnerMap && resp.ownership != nil {
		owner := make([]float32, c.cfg.NNXLen*c.cfg.NNYLen)
		copy(owner, resp.ownership)
		if pla == game.Black {
			for i := range owner {
				owner[i] = -owner[i]
			}
		}
		out.WhiteOwnerMap = owner
	}
	return out
}

func symmetrize(b *game.Board, hist *game.History, symmetry int) (*game.Board, *game.History) {
	sb := game.NewBoard(b.XSize, b.YSize)
	if symmetry&0x4 != 0 && b.XSize != b.YSize {
		symmetry &^= 0x4
	}
	for loc := game.Loc(0); int(loc) < b.Area(); loc++ {
		c := b.Colors[loc]
		if c != game.Empty {
			sb.Colors[game.SymmetryLoc(loc, symmetry, b.XSize, b.YSize)] = c
		}
	}
	if b.KoLoc != game.NullLoc {
		sb.KoLoc = game.SymmetryLoc(b.KoLoc, symmetry, b.XSize, b.YSize)
	}
	sh := hist.Clone()
	for i := range sh.MoveHistory {
		sh.MoveHistory[i].Loc = game.SymmetryLoc(sh.MoveHistory[i].Loc, symmetry, b.XSize, b.YSize)
	}
	return sb, sh
}

// unsymmetrizeResponse maps the raw policy and ownership heads from
// the symmetrized input frame back into board coordinates. The
// symmetrized-frame position of a board location is its forward
// symmetry image, so each board position reads from that image.
func unsymmetrizeResponse(resp *inferenceResponse, b *game.Board, nnXLen, nnYLen, symmetry int) {
	if symmetry&0x4 != 0 && b.XSize != b.YSize {
		symmetry &^= 0x4
	}
	if symmetry == 0 {
		return
	}
	policy := make([]float32, len(resp.policy))
	for pos := range policy {
		loc := PosToLoc(pos, b.XSize, b.YSize, nnXLen, nnYLen)
		if loc == game.NullLoc || loc == game.PassLoc {
			policy[pos] = resp.policy[pos]
			continue
		}
		srcLoc := game.SymmetryLoc(loc, symmetry, b.XSize, b.YSize)
		policy[pos] = resp.policy[LocToPos(srcLoc, b.XSize, nnXLen, nnYLen)]
	}
	resp.policy = policy
	if resp.ownership != nil {
		owner := make([]float32, len(resp.ownership))
		for pos := range owner {
			loc := PosToLoc(pos, b.XSize, b.YSize, nnXLen, nnYLen)
			if loc == game.NullLoc || loc == game.PassLoc {
				continue
			}
			srcLoc := game.SymmetryLoc(loc, symmetry, b.XSize, b.YSize)
			owner[pos] = resp.ownership[LocToPos(srcLoc, b.XSize, nnXLen, nnYLen)]
		}
		resp.ownership = owner
	}
}

func (c *OnnxClient) batchLoop() {
	batchInput := make([]float32, 0, c.cfg.BatchSize*c.inputSize())
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			if len(requests) >= c.cfg.BatchSize {
				c.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		case <-ticker.C:
			if len(requests) > 0 {
				c.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32) {
	n := int64(len(requests))
	xLen, yLen := int64(c.cfg.NNXLen), int64(c.cfg.NNYLen)

	inputTensor, err := ort.NewTensor(ort.NewShape(n, NumInputPlanes, yLen, xLen), batchInput)
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policySize := int64(c.policySize())
	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, policySize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, 3))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	miscTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, 5))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer miscTensor.Destroy()

	outputs := []ort.Value{policyTensor, valueTensor, miscTensor}
	var ownershipTensor *ort.Tensor[float32]
	if c.cfg.WithOwnership {
		ownershipTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(n, xLen*yLen))
		if err != nil {
			c.failBatch(requests, err)
			return
		}
		defer ownershipTensor.Destroy()
		outputs = append(outputs, ownershipTensor)
	}

	if err := c.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		c.failBatch(requests, err)
		return
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()
	miscData := miscTensor.GetData()
	var ownershipData []float32
	if ownershipTensor != nil {
		ownershipData = ownershipTensor.GetData()
	}

	ps := int(policySize)
	for i, req := range requests {
		resp := inferenceResponse{
			policy: append([]float32(nil), policyData[i*ps:(i+1)*ps]...),
			value:  append([]float32(nil), valueData[i*3:(i+1)*3]...),
			misc:   append([]float32(nil), miscData[i*5:(i+1)*5]...),
		}
		if ownershipData != nil {
			area := int(xLen * yLen)
			resp.ownership = append([]float32(nil), ownershipData[i*area:(i+1)*area]...)
		}
		req.respChan <- resp
	}
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
