package game

// CalculateSafeArea returns, per location, the color that can be
// considered to safely own it: stones of chains that border two or
// more single-color empty regions, and the regions themselves. This is
// an approximation of pass-alive analysis that errs toward marking
// less area safe, which is the conservative direction for the root
// useless-move pruning that consumes it.
func CalculateSafeArea(b *Board) []Color {
	safe := make([]Color, b.Area())
	regionOwner := make([]Color, b.Area())
	regionID := make([]int, b.Area())
	for i := range regionID {
		regionID[i] = -1
	}

	var nbuf [4]Loc
	numRegions := 0
	var regionColors []Color
	for loc := Loc(0); int(loc) < b.Area(); loc++ {
		if b.Colors[loc] != Empty || regionID[loc] >= 0 {
			continue
		}
		id := numRegions
		numRegions++
		stack := []Loc{loc}
		regionID[loc] = id
		var fill []Loc
		bordersBlack, bordersWhite := false, false
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			fill = append(fill, cur)
			for _, n := range b.neighbors(cur, nbuf[:0]) {
				switch b.Colors[n] {
				case Black:
					bordersBlack = true
				case White:
					bordersWhite = true
				default:
					if regionID[n] < 0 {
						regionID[n] = id
						stack = append(stack, n)
					}
				}
			}
		}
		owner := Empty
		if bordersBlack && !bordersWhite {
			owner = Black
		} else if bordersWhite && !bordersBlack {
			owner = White
		}
		regionColors = append(regionColors, owner)
		for _, f := range fill {
			regionOwner[f] = owner
		}
	}

	// A chain bordering at least two distinct owned regions of its own
	// color is treated as safe, along with those regions.
	chainSeen := make([]bool, b.Area())
	for loc := Loc(0); int(loc) < b.Area(); loc++ {
		color := b.Colors[loc]
		if color == Empty || chainSeen[loc] {
			continue
		}
		stones, _ := b.chainAt(loc)
		regions := make(map[int]bool)
		for _, s := range stones {
			chainSeen[s] = true
			for _, n := range b.neighbors(s, nbuf[:0]) {
				if b.Colors[n] == Empty {
					id := regionID[n]
					if id >= 0 && regionColors[id] == color {
						regions[id] = true
					}
				}
			}
		}
		if len(regions) >= 2 {
			for _, s := range stones {
				safe[s] = color
			}
			for l := Loc(0); int(l) < b.Area(); l++ {
				if b.Colors[l] == Empty && regionID[l] >= 0 && regions[regionID[l]] {
					safe[l] = color
				}
			}
		}
	}
	return safe
}

// IsNonPassAliveSelfConnection reports whether playing at loc would
// merely connect pla's own non-safe chains inside pla's own area.
// Used to avoid discouraging necessary connections when applying the
// ending-score bonus.
func IsNonPassAliveSelfConnection(b *Board, loc Loc, pla Player, safeArea []Color) bool {
	if b.Colors[loc] != Empty || safeArea[loc] == pla {
		return false
	}
	var nbuf [4]Loc
	adjacentOwn := 0
	for _, n := range b.neighbors(loc, nbuf[:0]) {
		if b.Colors[n] == pla && safeArea[n] != pla {
			adjacentOwn++
		}
	}
	return adjacentOwn >= 2
}
