package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ojudge/internal/judge/sandbox"
	"ojudge/internal/judge/sandbox/result"
	"ojudge/internal/judge/service"
	appErr "ojudge/pkg/errors"

	"github.com/gin-gonic/gin"
)

type scriptedExecutor struct {
	res result.ExecResult
	err error
	req sandbox.ExecRequest
}

func (e *scriptedExecutor) Run(_ context.Context, req sandbox.ExecRequest) (result.ExecResult, error) {
	e.req = req
	return e.res, e.err
}

func newRunRouter(t *testing.T, exec sandbox.Executor) *gin.Engine {
	t.Helper()
	svc, err := service.NewRunService(exec, service.RunConfig{})
	if err != nil {
		t.Fatalf("run service: %v", err)
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/run", NewRunController(svc).Run)
	return r
}

func postRun(t *testing.T, r http.Handler, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return w, env
}

func TestRunReturnsProgramOutput(t *testing.T) {
	exec := &scriptedExecutor{res: result.ExecResult{Stdout: "7\n"}}
	r := newRunRouter(t, exec)

	w, env := postRun(t, r, `{"language":"python","code":"print(7)","input":"3 4"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out service.RunResult
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if out.Outcome != result.OutcomeOK || out.Stdout != "7\n" {
		t.Fatalf("unexpected result %+v", out)
	}
	if exec.req.Stdin != "3 4" || exec.req.Language != "python" {
		t.Fatalf("request not forwarded: %+v", exec.req)
	}
}

func TestRunReportsCompilationErrorInBody(t *testing.T) {
	exec := &scriptedExecutor{err: appErr.New(appErr.CompilationError).WithDetail("diagnostic", "expected ';'")}
	r := newRunRouter(t, exec)

	w, env := postRun(t, r, `{"language":"cpp","code":"int main(){return 0}"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out service.RunResult
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if out.Outcome != result.OutcomeCompilationError || out.Diagnostic != "expected ';'" {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestRunRejections(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed json", `{`, nil, http.StatusBadRequest},
		{"empty code", `{"language":"python","code":""}`, nil, http.StatusBadRequest},
		{"unsupported language", `{"language":"cobol","code":"x"}`, appErr.New(appErr.LanguageNotSupported), http.StatusBadRequest},
		{"sandbox down", `{"language":"python","code":"x"}`, appErr.New(appErr.JudgeSystemError), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRunRouter(t, &scriptedExecutor{err: tc.err})
			if w, _ := postRun(t, r, tc.body); w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
		})
	}
}
