package landmark

import "fmt"

// Region names for the fixed landmark group positions.
const (
	RightCheek    = "right_cheek"
	RightUndereye = "right_undereye"
	LeftCheek     = "left_cheek"
	Nose          = "nose"
)

var regionNames = [...]string{RightCheek, RightUndereye, LeftCheek, Nose}

// RegionName returns the name for the group at index. Positions beyond the fixed
// table are named region_{index+1}.
func RegionName(index int) string {
	if index >= 0 && index < len(regionNames) {
		return regionNames[index]
	}
	return fmt.Sprintf("region_%d", index+1)
}

// RegionIndex returns the group position of a named region from the fixed table.
func RegionIndex(name string) (int, bool) {
	for i, n := range regionNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// ExclusionFor returns the region that name must avoid, if any.
func ExclusionFor(name string) (string, bool) {
	switch name {
	case RightCheek:
		return Nose, true
	default:
		return "", false
	}
}
