package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"transcriptdesk/internal/engine"
)

func TestInternalErrorsAreLoggedNotReturned(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	ctx := context.WithValue(context.Background(), logKey{}, logrus.FieldLogger(log))
	cause := errors.New("sqlite: no such table: work_items")

	se := handleError(ctx, cause)
	if se.GetStatus() != http.StatusInternalServerError {
		t.Fatalf("status = %d", se.GetStatus())
	}
	body, err := json.Marshal(se)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(body), "no such table") {
		t.Fatalf("internal error text leaked to client: %s", body)
	}
	if code := se.(*apiError).Body.Code; code != "internal_error" {
		t.Fatalf("code = %q", code)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected an error log entry, got %+v", entry)
	}
	if logged, _ := entry.Data[logrus.ErrorKey].(error); !errors.Is(logged, cause) {
		t.Fatalf("logged error = %v", entry.Data[logrus.ErrorKey])
	}
}

func TestMappedErrorsAreNotLogged(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	ctx := context.WithValue(context.Background(), logKey{}, logrus.FieldLogger(log))
	se := handleError(ctx, engine.ErrAlreadyAssigned)
	if se.GetStatus() != http.StatusConflict {
		t.Fatalf("status = %d", se.GetStatus())
	}
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("contention must not be logged as a failure: %v", hook.AllEntries())
	}
}
