package handler

import (
	"strconv"
	"time"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

const dateLayout = "2006-01-02"

type ResourceResponse struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	Expiration *string   `json:"expiration,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type TransactionResponse struct {
	ID                 string    `json:"id"`
	ResourceID         string    `json:"resource_id"`
	ResourceKind       string    `json:"resource_kind"`
	ResourceName       string    `json:"resource_name"`
	Quantity           int       `json:"quantity"`
	Movement           string    `json:"movement"`
	BorrowerID         string    `json:"borrower_id,omitempty"`
	RecipientName      *string   `json:"recipient_name"`
	RecipientPurok     *string   `json:"recipient_purok"`
	Purpose            string    `json:"purpose,omitempty"`
	PrescribedBy       string    `json:"prescribed_by,omitempty"`
	Status             string    `json:"status,omitempty"`
	ExpectedReturnDate *string   `json:"expected_return_date,omitempty"`
	ReturnDate         *string   `json:"return_date,omitempty"`
	ReturnQuantity     *int      `json:"return_quantity,omitempty"`
	RelatedID          string    `json:"related_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type AlertsResponse struct {
	LowStockMedicine []ResourceResponse `json:"low_stock_medicine"`
	LowStockTools    []ResourceResponse `json:"low_stock_tools"`
	Expiring         []ResourceResponse `json:"expiring"`
	Expired          []ResourceResponse `json:"expired"`
}

type CreateResourceRequest struct {
	Kind       string  `json:"kind"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Expiration *string `json:"expiration"`
}

type UpdateResourceRequest struct {
	Name       *string `json:"name"`
	Expiration *string `json:"expiration"`
}

type StockInRequest struct {
	Quantity   int     `json:"quantity"`
	Expiration *string `json:"expiration"`
}

// ReserveRequest is the body of dispense and borrow. ExpectedReturnDate is
// only read for borrows.
type ReserveRequest struct {
	Quantity           int     `json:"quantity"`
	BorrowerID         string  `json:"borrower_id"`
	Purpose            string  `json:"purpose"`
	PrescribedBy       string  `json:"prescribed_by"`
	ExpectedReturnDate *string `json:"expected_return_date"`
	RequestID          string  `json:"request_id"`
}

type ReturnRequest struct {
	Quantity  *int   `json:"quantity"`
	RequestID string `json:"request_id"`
}

func toResource(r domain.Resource) ResourceResponse {
	return ResourceResponse{
		ID:         r.ID,
		Kind:       string(r.Kind),
		Name:       r.Name,
		Quantity:   r.Quantity,
		Expiration: formatDate(r.Expiration),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toResources(rs []domain.Resource) []ResourceResponse {
	out := make([]ResourceResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toResource(r))
	}
	return out
}

func toTransaction(t domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                 t.ID,
		ResourceID:         t.ResourceID,
		ResourceKind:       string(t.ResourceKind),
		ResourceName:       t.ResourceName,
		Quantity:           t.Quantity,
		Movement:           string(t.Movement),
		BorrowerID:         t.BorrowerID,
		RecipientName:      t.RecipientName,
		RecipientPurok:     t.RecipientPurok,
		Purpose:            t.Purpose,
		PrescribedBy:       t.PrescribedBy,
		Status:             string(t.Status),
		ExpectedReturnDate: formatDate(t.ExpectedReturnDate),
		ReturnQuantity:     t.ReturnQuantity,
		RelatedID:          t.RelatedID,
		CreatedAt:          t.CreatedAt,
	}
	if t.ReturnDate != nil {
		s := t.ReturnDate.UTC().Format(time.RFC3339)
		resp.ReturnDate = &s
	}
	return resp
}

func toTransactions(ts []domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTransaction(t))
	}
	return out
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(dateLayout)
	return &s
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, *s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, domain.Invalid("%s: expected YYYY-MM-DD, got %q", field, *s)
	}
	t = t.UTC()
	return &t, nil
}

func parseInt(field, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, domain.Invalid("%s must be a number, got %q", field, s)
	}
	return n, nil
}
