package game

// Helpers for locations relative to the board center, used by the
// anti-mirror countermeasures and root symmetry pruning.

// MirrorLoc reflects loc through the board center.
func MirrorLoc(loc Loc, xSize, ySize int) Loc {
	if loc == PassLoc || loc == NullLoc {
		return loc
	}
	x := int(loc) % xSize
	y := int(loc) / xSize
	return Loc((ySize-1-y)*xSize + (xSize - 1 - x))
}

// CenterLoc returns the center point, or NullLoc when the board has no
// single center.
func CenterLoc(xSize, ySize int) Loc {
	if xSize%2 == 0 || ySize%2 == 0 {
		return NullLoc
	}
	return Loc((ySize/2)*xSize + xSize/2)
}

// IsCentral reports whether loc is within one point of the exact
// center in both coordinates.
func IsCentral(loc Loc, xSize, ySize int) bool {
	x := int(loc) % xSize
	y := int(loc) / xSize
	dx := 2*x - (xSize - 1)
	dy := 2*y - (ySize - 1)
	return dx >= -2 && dx <= 2 && dy >= -2 && dy <= 2
}

// IsNearCentral is a looser band around the center.
func IsNearCentral(loc Loc, xSize, ySize int) bool {
	x := int(loc) % xSize
	y := int(loc) / xSize
	dx := 2*x - (xSize - 1)
	dy := 2*y - (ySize - 1)
	return dx >= -4 && dx <= 4 && dy >= -4 && dy <= 4
}

// EuclideanDistanceSquared between two on-board locations.
func EuclideanDistanceSquared(a, b Loc, xSize int) int {
	ax, ay := int(a)%xSize, int(a)/xSize
	bx, by := int(b)%xSize, int(b)/xSize
	dx := ax - bx
	dy := ay - by
	return dx*dx + dy*dy
}

// NumSymmetries is the count of square-board symmetries considered for
// root symmetry pruning and symmetry-averaged root evaluation.
const NumSymmetries = 8

// SymmetryLoc applies one of the eight dihedral symmetries to loc.
// Transpositions are only meaningful on square boards.
func SymmetryLoc(loc Loc, symmetry int, xSize, ySize int) Loc {
	if loc == PassLoc || loc == NullLoc {
		return loc
	}
	x := int(loc) % xSize
	y := int(loc) / xSize
	if symmetry&0x1 != 0 {
		x = xSize - 1 - x
	}
	if symmetry&0x2 != 0 {
		y = ySize - 1 - y
	}
	if symmetry&0x4 != 0 {
		x, y = y, x
	}
	return Loc(y*xSize + x)
}

// boardInvariantUnderSymmetry reports whether applying the symmetry
// maps the stone configuration to itself.
func boardInvariantUnderSymmetry(b *Board, symmetry int) bool {
	if symmetry&0x4 != 0 && b.XSize != b.YSize {
		return false
	}
	for loc := Loc(0); int(loc) < len(b.Colors); loc++ {
		if b.Colors[loc] != b.Colors[SymmetryLoc(loc, symmetry, b.XSize, b.YSize)] {
			return false
		}
	}
	return true
}

// MarkDuplicateMoveLocs finds the symmetries under which the current
// position is invariant and marks, for each equivalence class of
// moves, every location except a canonical representative. Returns the
// duplicate mask and the invariant symmetries found. avoidMoveUntil,
// if non-empty, exempts avoided locations from being representatives.
func MarkDuplicateMoveLocs(b *Board, onlySymmetries []int, avoidMoveUntil []int) (dup []bool, symmetries []int) {
	dup = make([]bool, b.Area())
	symmetries = append(symmetries, 0)
	for sym := 1; sym < NumSymmetries; sym++ {
		if onlySymmetries != nil {
			found := false
			for _, s := range onlySymmetries {
				if s == sym {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		if boardInvariantUnderSymmetry(b, sym) {
			symmetries = append(symmetries, sym)
		}
	}
	if len(symmetries) <= 1 {
		return dup, symmetries
	}
	avoided := func(loc Loc) bool {
		return len(avoidMoveUntil) > int(loc) && loc >= 0 && avoidMoveUntil[loc] > 0
	}
	for loc := Loc(0); int(loc) < b.Area(); loc++ {
		if dup[loc] || b.Colors[loc] != Empty {
			continue
		}
		// loc is the representative unless it is itself avoided and a
		// symmetric partner is not.
		rep := loc
		for _, sym := range symmetries[1:] {
			other := SymmetryLoc(loc, sym, b.XSize, b.YSize)
			if other == rep {
				continue
			}
			if avoided(rep) && !avoided(other) {
				dup[rep] = true
				rep = other
			} else {
				dup[other] = true
			}
		}
	}
	return dup, symmetries
}
