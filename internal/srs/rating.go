package srs

import "fmt"

// Rating grades recall quality for a single review, ordered by strength.
type Rating int

const (
	Again Rating = iota // failed to recall
	Hard                // recalled with significant difficulty
	Good                // recalled with some effort
	Easy                // recalled effortlessly
)

var ratingNames = [...]string{Again: "again", Hard: "hard", Good: "good", Easy: "easy"}

func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("rating(%d)", int(r))
}

// IsValid reports whether r is one of the four defined ratings.
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

// IsLapse reports whether r indicates forgetting.
func (r Rating) IsLapse() bool {
	return r == Again
}

// IsSuccess reports whether r counts as a successful recall.
func (r Rating) IsSuccess() bool {
	return r >= Hard && r <= Easy
}

// ParseRating maps a rating name to its value. Unknown names default to Good,
// matching the lenient wire contract used by review clients.
func ParseRating(name string) Rating {
	switch name {
	case "again":
		return Again
	case "hard":
		return Hard
	case "good":
		return Good
	case "easy":
		return Easy
	default:
		return Good
	}
}

// ClampRating forces out-of-range wire values into the valid rating range.
func ClampRating(v int) Rating {
	if v < int(Again) {
		return Again
	}
	if v > int(Easy) {
		return Easy
	}
	return Rating(v)
}
