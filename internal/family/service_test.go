package family_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famlink/internal/api"
	"famlink/internal/family"
)

func writeData(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

func newFamilyService(t *testing.T, r chi.Router) *family.Service {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	client := api.NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	return family.NewService(client, zerolog.Nop())
}

func TestFamilyList(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/families", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "1", req.URL.Query().Get("page"))
		writeData(w, http.StatusOK, map[string]any{
			"items": []family.Family{
				{ID: 1, Name: "Smiths", MemberCount: 4},
				{ID: 2, Name: "Cousins", MemberCount: 9},
			},
			"meta": api.Meta{Page: 1, Limit: 50, Total: 2},
		})
	})
	svc := newFamilyService(t, r)

	families, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, families, 2)
	assert.Equal(t, "Smiths", families[0].Name)
	assert.Equal(t, 9, families[1].MemberCount)
}

func TestFamilyCreate(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/families", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		writeData(w, http.StatusCreated, family.Family{ID: 5, Name: body.Name, MemberCount: 1})
	})
	svc := newFamilyService(t, r)

	f, err := svc.Create(context.Background(), "Smiths")
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.ID)
	assert.Equal(t, "Smiths", f.Name)
}

func TestFamilyDelete(t *testing.T) {
	var deleted string
	r := chi.NewRouter()
	r.Delete("/api/families/{id}", func(w http.ResponseWriter, req *http.Request) {
		deleted = chi.URLParam(req, "id")
		writeData(w, http.StatusOK, nil)
	})
	svc := newFamilyService(t, r)

	require.NoError(t, svc.Delete(context.Background(), 5))
	assert.Equal(t, "5", deleted)
}

func TestFamilyMembers(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/families/{id}/members", func(w http.ResponseWriter, req *http.Request) {
		writeData(w, http.StatusOK, []family.Member{
			{UserID: 1, Name: "Ann", Role: "admin"},
			{UserID: 2, Name: "Bo", Role: "member"},
		})
	})
	svc := newFamilyService(t, r)

	members, err := svc.Members(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "admin", members[0].Role)
}

func TestFamilyInviteFlow(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/families/{id}/invitations", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		writeData(w, http.StatusCreated, family.Invitation{
			ID: 9, FamilyID: 5, Email: body.Email, Role: body.Role,
			Code: "inv-abc", Status: "pending",
		})
	})
	r.Get("/api/invitations", func(w http.ResponseWriter, req *http.Request) {
		writeData(w, http.StatusOK, []family.Invitation{
			{ID: 9, FamilyID: 5, FamilyName: "Smiths", Code: "inv-abc", Status: "pending"},
		})
	})
	r.Post("/api/invitations/{code}/accept", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "inv-abc", chi.URLParam(req, "code"))
		writeData(w, http.StatusOK, family.Family{ID: 5, Name: "Smiths", MemberCount: 5})
	})
	r.Post("/api/invitations/{code}/decline", func(w http.ResponseWriter, req *http.Request) {
		writeData(w, http.StatusOK, nil)
	})
	svc := newFamilyService(t, r)
	ctx := context.Background()

	inv, err := svc.Invite(ctx, 5, "gran@example.com", "member")
	require.NoError(t, err)
	assert.Equal(t, "inv-abc", inv.Code)

	invs, err := svc.Invitations(ctx)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "Smiths", invs[0].FamilyName)

	f, err := svc.Accept(ctx, "inv-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.ID)

	require.NoError(t, svc.Decline(ctx, "inv-abc"))
}

func TestFamilyServerErrorSurfaces(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/families", func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusForbidden, "children cannot create families")
	})
	svc := newFamilyService(t, r)

	_, err := svc.Create(context.Background(), "Nope")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "children cannot create families", apiErr.Message)
}
