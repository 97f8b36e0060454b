package session

// Stats summarises a finished session.
type Stats struct {
	CardsReviewed  int     `json:"cards_reviewed"`
	CorrectCount   int     `json:"correct_count"`
	IncorrectCount int     `json:"incorrect_count"`
	Accuracy       float64 `json:"accuracy"`
}

// StatsFor derives final statistics from a session snapshot.
func StatsFor(s *Session) Stats {
	st := Stats{
		CardsReviewed: s.CardsReviewed,
		CorrectCount:  s.CorrectCount,
	}
	st.IncorrectCount = st.CardsReviewed - st.CorrectCount
	if st.CardsReviewed > 0 {
		st.Accuracy = float64(st.CorrectCount) / float64(st.CardsReviewed)
	}
	return st
}
