package crispin

import (
	"testing"
	"time"
)

func TestMailDateParseAcceptsRFC1123Z(t *testing.T) {
	got, err := mailDateParse("Mon, 02 Jan 2006 15:04:05 +0000")
	if err != nil {
		t.Fatalf("mailDateParse: %v", err)
	}
	want := time.Date(2006, time.January, 2, 15, 4, 5, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMailDateParseAcceptsOneDigitDay(t *testing.T) {
	got, err := mailDateParse("2 Jan 2006 15:04:05 +0000")
	if err != nil {
		t.Fatalf("mailDateParse: %v", err)
	}
	if got.Day() != 2 {
		t.Fatalf("expected day 2, got %d", got.Day())
	}
}

func TestMailDateParseRejectsGarbage(t *testing.T) {
	if _, err := mailDateParse("not a date"); err == nil {
		t.Fatal("expected an error for an unparsable date")
	}
}

func TestRecoverDateFromHeadersUsesDateHeader(t *testing.T) {
	body := []byte("Date: Mon, 02 Jan 2006 15:04:05 +0000\r\nSubject: hi\r\n\r\nbody text\r\n")
	got, ok := recoverDateFromHeaders(body)
	if !ok {
		t.Fatal("expected a recovered date")
	}
	if got.Year() != 2006 {
		t.Fatalf("expected year 2006, got %d", got.Year())
	}
}

func TestRecoverDateFromHeadersMissingDateHeader(t *testing.T) {
	body := []byte("Subject: hi\r\n\r\nbody text\r\n")
	if _, ok := recoverDateFromHeaders(body); ok {
		t.Fatal("expected no recovered date when Date header is absent")
	}
}
