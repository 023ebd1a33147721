package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()

	path, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile("file://" + filepath.ToSlash(path))
	require.NoError(t, err)
	return schema
}

func requireSchema(t *testing.T, schema *jsonschema.Schema, body []byte) {
	t.Helper()

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload), string(body))
}

func TestAuthResponseContract(t *testing.T) {
	srv := newTestServer(t)
	schema := compileSchema(t, "auth_response.schema.json")

	status, _, body := srv.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name":     "Contract Student",
		"email":    "contract@example.com",
		"password": "correct-horse-9",
	})
	require.Equal(t, http.StatusCreated, status)
	requireSchema(t, schema, body)

	status, _, body = srv.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "contract@example.com",
		"password": "correct-horse-9",
	})
	require.Equal(t, http.StatusOK, status)
	requireSchema(t, schema, body)
}

func TestSubmittedResultContract(t *testing.T) {
	srv := newTestServer(t)
	teacher := srv.register("Contract Teacher", "ct@example.com", "teacher")
	student := srv.register("Contract Student", "cs@example.com", "student")
	exam, choice, _ := srv.createOpenExam(teacher.Token)

	status, _, body := srv.do(http.MethodPost, fmt.Sprintf("/api/v1/exams/%d/submit", exam.ID), student.Token, map[string]interface{}{
		"answers": []map[string]interface{}{{"question_id": choice.ID, "selected_answer": "4"}},
	})
	require.Equal(t, http.StatusOK, status)
	requireSchema(t, compileSchema(t, "result_response.schema.json"), body)
}

func TestErrorResponseContract(t *testing.T) {
	srv := newTestServer(t)
	schema := compileSchema(t, "error_response.schema.json")

	_, _, body := srv.do(http.MethodGet, "/api/v1/exams", "", nil)
	requireSchema(t, schema, body)

	_, _, body = srv.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "nope"})
	requireSchema(t, schema, body)
}
