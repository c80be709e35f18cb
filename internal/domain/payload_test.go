package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizePayloadReducesNumbers(t *testing.T) {
	payload, err := NormalizePayload(map[string]any{
		" company_name ": "Acme",
		"employee_count": json.Number("42"),
		"revenue":        json.Number("12.5"),
		"active":         true,
		"notes":          nil,
		"small":          int(3),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if payload["company_name"] != "Acme" {
		t.Fatalf("expected trimmed key, got %#v", payload)
	}
	if payload["employee_count"] != int64(42) {
		t.Fatalf("expected int64 42, got %#v", payload["employee_count"])
	}
	if payload["revenue"] != 12.5 {
		t.Fatalf("expected float 12.5, got %#v", payload["revenue"])
	}
	if payload["small"] != int64(3) {
		t.Fatalf("expected int64 3, got %#v", payload["small"])
	}
	if v, ok := payload["notes"]; !ok || v != nil {
		t.Fatalf("expected explicit nil to be kept, got %#v", payload["notes"])
	}
}

func TestNormalizePayloadRejectsNestedValues(t *testing.T) {
	_, err := NormalizePayload(map[string]any{
		"address": map[string]any{"city": "Pittsburgh"},
	})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}

	_, err = NormalizePayload(map[string]any{"tags": []any{"a"}})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for arrays, got %v", err)
	}
}

func TestDecodePayloadRoundTripsThroughEncode(t *testing.T) {
	original := Payload{"company_name": "Acme", "employee_count": int64(10)}
	raw, err := EncodePayload(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded["employee_count"] != int64(10) {
		t.Fatalf("expected integer to survive as int64, got %#v", decoded["employee_count"])
	}

	nullPayload, err := DecodePayload([]byte("null"))
	if err != nil || nullPayload != nil {
		t.Fatalf("expected nil payload for JSON null, got %#v (%v)", nullPayload, err)
	}
}

func TestDiffPayloadsReportsChangedFieldsInOrder(t *testing.T) {
	before := Payload{"company_name": "", "website_url": "http://x.com", "employee_count": int64(5)}
	after := Payload{"company_name": "Acme", "website_url": "http://x.com", "employee_count": float64(5), "phone": "555-0100"}

	changes := DiffPayloads(before, after)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(changes), changes)
	}
	if changes[0].Field != "company_name" || changes[0].OldValue != "" || changes[0].NewValue != "Acme" {
		t.Fatalf("unexpected first change: %+v", changes[0])
	}
	if changes[1].Field != "phone" || changes[1].OldValue != nil {
		t.Fatalf("unexpected second change: %+v", changes[1])
	}
}

func TestDiffPayloadsIgnoresNullVersusAbsent(t *testing.T) {
	before := Payload{"company_name": "Acme", "phone": nil}
	after := Payload{"company_name": "Acme", "email": nil}

	if changes := DiffPayloads(before, after); len(changes) != 0 {
		t.Fatalf("null and absent fields should not be reported, got %+v", changes)
	}

	changes := DiffPayloads(Payload{"email": "a@b.co"}, Payload{})
	if len(changes) != 1 || changes[0].Field != "email" || changes[0].NewValue != nil {
		t.Fatalf("expected cleared email to be reported, got %+v", changes)
	}
}

func TestDiffPayloadsIdenticalSnapshots(t *testing.T) {
	p := Payload{"company_name": "Acme"}
	if changes := DiffPayloads(p, p.Clone()); len(changes) != 0 {
		t.Fatalf("expected no changes, got %+v", changes)
	}
}
