package game

// Color of a board point. Players are colors.
type Color int8

const (
	Empty Color = 0
	Black Color = 1
	White Color = 2
)

// Player is a color that moves.
type Player = Color

func Opp(pla Player) Player {
	if pla == Black {
		return White
	}
	return Black
}

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	}
	return "empty"
}

// Loc indexes a point on the board as y*XSize+x. Two sentinel values
// exist: PassLoc for a pass move and NullLoc for "no location".
type Loc int32

const (
	PassLoc Loc = -1
	NullLoc Loc = -2
)

// MaxBoardLen is the largest supported board dimension.
const MaxBoardLen = 19

const zobristSeed uint64 = 0x9a0c7f3b52e18d64

// Board is a go board with simple-ko tracking and an incrementally
// maintained 128-bit zobrist hash of the stone configuration.
type Board struct {
	XSize  int
	YSize  int
	Colors []Color
	KoLoc  Loc

	PosHash Hash128

	NumBlackCaptures int
	NumWhiteCaptures int
}

func NewBoard(xSize, ySize int) *Board {
	if xSize <= 0 || xSize > MaxBoardLen || ySize <= 0 || ySize > MaxBoardLen {
		panic("game: board size out of range")
	}
	return &Board{
		XSize:  xSize,
		YSize:  ySize,
		Colors: make([]Color, xSize*ySize),
		KoLoc:  NullLoc,
	}
}

func (b *Board) Clone() *Board {
	c := *b
	c.Colors = make([]Color, len(b.Colors))
	copy(c.Colors, b.Colors)
	return &c
}

func (b *Board) Area() int { return b.XSize * b.YSize }

func (b *Board) Loc(x, y int) Loc { return Loc(y*b.XSize + x) }

func (b *Board) X(loc Loc) int { return int(loc) % b.XSize }
func (b *Board) Y(loc Loc) int { return int(loc) / b.XSize }

func (b *Board) IsOnBoard(loc Loc) bool {
	return loc >= 0 && int(loc) < len(b.Colors)
}

func (b *Board) ColorAt(loc Loc) Color { return b.Colors[loc] }

func stoneHash(loc Loc, c Color) Hash128 {
	return MixedHash128(zobristSeed, uint64(loc), uint64(c))
}

// neighbors appends the on-board orthogonal neighbors of loc to buf.
func (b *Board) neighbors(loc Loc, buf []Loc) []Loc {
	x, y := b.X(loc), b.Y(loc)
	if x > 0 {
		buf = append(buf, loc-1)
	}
	if x < b.XSize-1 {
		buf = append(buf, loc+1)
	}
	if y > 0 {
		buf = append(buf, loc-Loc(b.XSize))
	}
	if y < b.YSize-1 {
		buf = append(buf, loc+Loc(b.XSize))
	}
	return buf
}

// chainAt flood-fills the chain containing loc, returning its stones
// and liberty count.
func (b *Board) chainAt(loc Loc) (stones []Loc, liberties int) {
	color := b.Colors[loc]
	if color == Empty {
		return nil, 0
	}
	seen := make(map[Loc]bool)
	libSeen := make(map[Loc]bool)
	stack := []Loc{loc}
	seen[loc] = true
	var nbuf [4]Loc
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stones = append(stones, cur)
		for _, n := range b.neighbors(cur, nbuf[:0]) {
			switch b.Colors[n] {
			case Empty:
				if !libSeen[n] {
					libSeen[n] = true
					liberties++
				}
			case color:
				if !seen[n] {
					seen[n] = true
					stack = append(stack, n)
				}
			}
		}
	}
	return stones, liberties
}

// NumLiberties returns the liberty count of the chain at loc, or 0 for
// an empty point.
func (b *Board) NumLiberties(loc Loc) int {
	_, libs := b.chainAt(loc)
	return libs
}

// IsAdjacentToPla reports whether loc has an orthogonal neighbor stone
// of the given player.
func (b *Board) IsAdjacentToPla(loc Loc, pla Player) bool {
	var nbuf [4]Loc
	for _, n := range b.neighbors(loc, nbuf[:0]) {
		if b.Colors[n] == pla {
			return true
		}
	}
	return false
}

// IsAdjacentToChain reports whether loc is orthogonally adjacent to
// the chain containing chainLoc.
func (b *Board) IsAdjacentToChain(loc Loc, chainLoc Loc) bool {
	if !b.IsOnBoard(chainLoc) || b.Colors[chainLoc] == Empty {
		return false
	}
	stones, _ := b.chainAt(chainLoc)
	inChain := make(map[Loc]bool, len(stones))
	for _, s := range stones {
		inChain[s] = true
	}
	var nbuf [4]Loc
	for _, n := range b.neighbors(loc, nbuf[:0]) {
		if inChain[n] {
			return true
		}
	}
	return false
}

// IsLegal checks move legality for pla: the point must be empty, must
// not be a simple-ko retake, and must not be suicide unless the rules
// permit multi-stone suicide.
func (b *Board) IsLegal(loc Loc, pla Player, multiStoneSuicideLegal bool) bool {
	if loc == PassLoc {
		return true
	}
	if !b.IsOnBoard(loc) || b.Colors[loc] != Empty {
		return false
	}
	if loc == b.KoLoc {
		return false
	}
	return !b.isSuicide(loc, pla, multiStoneSuicideLegal)
}

func (b *Board) isSuicide(loc Loc, pla Player, multiStoneSuicideLegal bool) bool {
	opp := Opp(pla)
	var nbuf [4]Loc
	captures := false
	hasLiberty := false
	for _, n := range b.neighbors(loc, nbuf[:0]) {
		switch b.Colors[n] {
		case Empty:
			hasLiberty = true
		case opp:
			if _, libs := b.chainAt(n); libs == 1 {
				captures = true
			}
		}
	}
	if hasLiberty || captures {
		return false
	}
	// Connected to an own chain with a spare liberty?
	b.Colors[loc] = pla
	_, libs := b.chainAt(loc)
	b.Colors[loc] = Empty
	if libs > 0 {
		return false
	}
	if multiStoneSuicideLegal {
		// Suicide is a legal (if rarely wise) move under these rules,
		// single-stone suicide excepted.
		own := false
		for _, n := range b.neighbors(loc, nbuf[:0]) {
			if b.Colors[n] == pla {
				own = true
			}
		}
		return !own
	}
	return true
}

// PlayMoveAssumeLegal places the stone, performs captures, updates ko
// state and the position hash. Pass moves only clear the ko point.
func (b *Board) PlayMoveAssumeLegal(loc Loc, pla Player) {
	if loc == PassLoc {
		b.KoLoc = NullLoc
		return
	}
	opp := Opp(pla)
	b.setColor(loc, pla)

	var nbuf [4]Loc
	capturedStones := 0
	var lastCaptured Loc = NullLoc
	for _, n := range b.neighbors(loc, nbuf[:0]) {
		if b.Colors[n] != opp {
			continue
		}
		stones, libs := b.chainAt(n)
		if libs == 0 {
			for _, s := range stones {
				b.setColor(s, Empty)
				capturedStones++
				lastCaptured = s
			}
		}
	}
	if capturedStones > 0 {
		if pla == Black {
			b.NumWhiteCaptures += capturedStones
		} else {
			b.NumBlackCaptures += capturedStones
		}
	}

	// Self-capture under suicide rules.
	if stones, libs := b.chainAt(loc); libs == 0 {
		for _, s := range stones {
			b.setColor(s, Empty)
		}
		if pla == Black {
			b.NumBlackCaptures += len(stones)
		} else {
			b.NumWhiteCaptures += len(stones)
		}
		capturedStones = 0
	}

	// Simple ko: single stone captured, capturing stone alone with one
	// liberty at the captured point.
	b.KoLoc = NullLoc
	if capturedStones == 1 {
		stones, libs := b.chainAt(loc)
		if len(stones) == 1 && libs == 1 {
			b.KoLoc = lastCaptured
		}
	}
}

func (b *Board) setColor(loc Loc, c Color) {
	old := b.Colors[loc]
	if old != Empty {
		b.PosHash = b.PosHash.Xor(stoneHash(loc, old))
	}
	b.Colors[loc] = c
	if c != Empty {
		b.PosHash = b.PosHash.Xor(stoneHash(loc, c))
	}
}

// ClearSimpleKoLoc forgets the ko point, used when the same player
// somehow moves twice in a row.
func (b *Board) ClearSimpleKoLoc() {
	b.KoLoc = NullLoc
}
