package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewTransferValidation(t *testing.T) {
	senderID := uuid.New()
	receiverID := uuid.New()

	tests := []struct {
		name     string
		params   NewTransferParams
		wantErr  error
		wantCurr string
	}{
		{
			name: "accepts a valid transfer",
			params: NewTransferParams{
				SenderAccountID:   senderID,
				ReceiverAccountID: receiverID,
				Amount:            5000,
				MinAmount:         100,
				Currency:          "NGN",
			},
			wantCurr: "NGN",
		},
		{
			name: "normalizes currency casing and whitespace",
			params: NewTransferParams{
				SenderAccountID:   senderID,
				ReceiverAccountID: receiverID,
				Amount:            5000,
				MinAmount:         100,
				Currency:          " usd ",
			},
			wantCurr: "USD",
		},
		{
			name: "rejects zero amount",
			params: NewTransferParams{
				SenderAccountID:   senderID,
				ReceiverAccountID: receiverID,
				Amount:            0,
				MinAmount:         100,
				Currency:          "NGN",
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "rejects negative amount",
			params: NewTransferParams{
				SenderAccountID:   senderID,
				ReceiverAccountID: receiverID,
				Amount:            -200,
				MinAmount:         100,
				Currency:          "NGN",
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "rejects amount below the configured minimum",
			params: NewTransferParams{
				SenderAccountID:   senderID,
				ReceiverAccountID: receiverID,
				Amount:            99,
				MinAmount:         100,
				Currency:          "NGN",
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "rejects identical sender and receiver",
			params: NewTransferParams{
				SenderAccountID:   senderID,
				ReceiverAccountID: senderID,
				Amount:            5000,
				MinAmount:         100,
				Currency:          "NGN",
			},
			wantErr: ErrSameAccount,
		},
		{
			name: "rejects unsupported currency",
			params: NewTransferParams{
				SenderAccountID:   senderID,
				ReceiverAccountID: receiverID,
				Amount:            5000,
				MinAmount:         100,
				Currency:          "JPY",
			},
			wantErr: ErrInvalidCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTransfer(tt.params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Currency != tt.wantCurr {
				t.Fatalf("expected currency %q, got %q", tt.wantCurr, got.Currency)
			}
			if got.Status != TransferStatusCompleted {
				t.Fatalf("expected status %q, got %q", TransferStatusCompleted, got.Status)
			}
			if got.ID == uuid.Nil {
				t.Fatal("expected a generated transfer ID")
			}
			if got.CreatedAt.IsZero() {
				t.Fatal("expected CreatedAt to be populated")
			}
		})
	}
}

func TestNewTransferAmountGatePrecedesPartyGate(t *testing.T) {
	id := uuid.New()

	// Both the amount and the parties are invalid; the amount rejection wins.
	_, err := NewTransfer(NewTransferParams{
		SenderAccountID:   id,
		ReceiverAccountID: id,
		Amount:            0,
		MinAmount:         100,
		Currency:          "NGN",
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
