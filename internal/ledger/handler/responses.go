package handler

import (
	"time"

	"trustcert/internal/ledger/models"
)

type RecordResponse struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Category     string    `json:"category"`
	Sequence     int64     `json:"sequence"`
	Value        string    `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
	Issuer       string    `json:"issuer"`
	DataHash     string    `json:"data_hash"`
	PreviousHash string    `json:"previous_hash"`
}

type RecordListResponse struct {
	Subject string           `json:"subject"`
	Records []RecordResponse `json:"records"`
}

type VerifyResponse struct {
	Subject  string `json:"subject"`
	Category string `json:"category"`
	Valid    bool   `json:"valid"`
	Length   int    `json:"length"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func FromRecord(r *models.RecordVersion) RecordResponse {
	return RecordResponse{
		ID:           r.ID.String(),
		Subject:      r.Subject,
		Category:     r.Category,
		Sequence:     r.Sequence,
		Value:        r.Value,
		Timestamp:    r.Timestamp,
		Issuer:       r.Issuer.String(),
		DataHash:     r.DataHash,
		PreviousHash: r.PreviousHash,
	}
}

func FromRecords(subject string, recs []*models.RecordVersion) RecordListResponse {
	out := RecordListResponse{Subject: subject, Records: make([]RecordResponse, 0, len(recs))}
	for _, r := range recs {
		out.Records = append(out.Records, FromRecord(r))
	}
	return out
}

func FromVerify(key models.ChainKey, res models.VerifyResult) VerifyResponse {
	return VerifyResponse{
		Subject:  key.Subject,
		Category: key.Category,
		Valid:    res.Valid,
		Length:   res.Length,
		BrokenAt: res.BrokenAt,
		Reason:   res.Reason,
	}
}
