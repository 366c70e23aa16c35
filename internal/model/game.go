package model

import "time"

// GamePlayResponse is the backend's answer to /game/play.
//
// The same struct is persisted locally as the pending game result: it is the
// only durable evidence on the device that a bet was placed and has not yet
// been acknowledged with /game/complete.
type GamePlayResponse struct {
	GameID        int   `json:"gameId"`
	Bet           int   `json:"bet"`
	SelectedCards []int `json:"selectedCards"`
	DrawnCards    []int `json:"drawnCards"`
	MatchedCards  []int `json:"matchedCards"`
	Win           int   `json:"win"`
}

// PendingGameResult is the durable alias used by the reconciler.
type PendingGameResult = GamePlayResponse

// CompleteResult is the body of a successful /game/complete.
type CompleteResult struct {
	Balance   int `json:"balance"`
	TimeBonus int `json:"timeBonus"`
}

// BalanceUpdate is the body of a successful /bonus/claim or /purchase.
type BalanceUpdate struct {
	Balance          int       `json:"balance"`
	NextTimeBonusUTC time.Time `json:"nextTimeBonusUTC"`
}

// HitRecord is one row of the payout table: picking Selected numbers and
// matching Matched of them pays Rate times the bet.
type HitRecord struct {
	Selected int `json:"selected"`
	Matched  int `json:"matched"`
	Rate     int `json:"rate"`
}

// HitTable groups payout rows by the number of selected cards, keeping the
// order the backend returned them in.
type HitTable map[int][]HitRecord

// NewHitTable groups records by Selected.
func NewHitTable(records []HitRecord) HitTable {
	t := make(HitTable)
	for _, r := range records {
		t[r.Selected] = append(t[r.Selected], r)
	}
	return t
}

// Rate returns the payout multiplier for the given pick/match combination.
func (t HitTable) Rate(selected, matched int) (int, bool) {
	for _, r := range t[selected] {
		if r.Matched == matched {
			return r.Rate, true
		}
	}
	return 0, false
}

// AdsData is an advertisement served by /ads. Source holds the raw image
// bytes (base64 on the wire).
type AdsData struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	Source      []byte `json:"source"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}
