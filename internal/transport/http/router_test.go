package httptransport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"vcbridge/internal/did"
	"vcbridge/internal/events"
	"vcbridge/internal/issuance"
	"vcbridge/internal/platform/health"
	"vcbridge/internal/protocol"
	"vcbridge/internal/protocol/peer"
	"vcbridge/internal/session/models"
	sessionstore "vcbridge/internal/session/store"
	statusservice "vcbridge/internal/statuslist/service"
	statusstore "vcbridge/internal/statuslist/store"
	"vcbridge/internal/template"
	"vcbridge/internal/verification"
)

const testIssuer = "did:peer:issuer-1"

type RouterSuite struct {
	suite.Suite
	server *httptest.Server
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := sessionstore.New()
	status := statusservice.NewService(statusstore.New(), statusservice.WithListSize(8))

	resolver := did.NewStaticResolver(map[string]did.VerificationKey{
		testIssuer: {ID: testIssuer + "#key-1", Type: "Ed25519VerificationKey2020", PublicKey: "z6MkTest"},
	})
	registry := protocol.NewRegistry(peer.New(resolver, "https://gateway.example.com/events"))

	templates := template.NewInMemoryStore(
		[]*template.IssuanceTemplate{{
			ID:             "tpl_member",
			Name:           "membership-card",
			Protocol:       models.ProtocolPeer,
			IssuerID:       testIssuer,
			Revocable:      true,
			StatusPurpose:  "revocation",
			RequiredClaims: []string{"member_id"},
		}},
		[]*template.VerificationTemplate{{
			ID:              "tpl_age",
			Name:            "age-check",
			Protocol:        models.ProtocolPeer,
			RequestedClaims: []string{"birth_date"},
		}},
	)

	issuanceSvc := issuance.NewService(sessions, templates, registry, status)
	verificationSvc := verification.NewService(sessions, templates, registry, status)

	router := NewRouter(Deps{
		Issuance:     issuanceSvc,
		Verification: verificationSvc,
		Dispatcher:   events.NewDispatcher(sessions, issuanceSvc, verificationSvc),
		StatusLists:  status,
		Health:       health.New(),
		Logger:       logger,
	})
	s.server = httptest.NewServer(router)
}

func (s *RouterSuite) TearDownTest() {
	s.server.Close()
}

func (s *RouterSuite) post(path string, body any) (*http.Response, map[string]any) {
	payload, err := json.Marshal(body)
	s.Require().NoError(err)
	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(payload))
	s.Require().NoError(err)
	return resp, s.decode(resp)
}

func (s *RouterSuite) get(path string) (*http.Response, map[string]any) {
	resp, err := http.Get(s.server.URL + path)
	s.Require().NoError(err)
	return resp, s.decode(resp)
}

func (s *RouterSuite) decode(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil
	}
	return out
}

// openIssuance opens a session and returns its id.
func (s *RouterSuite) openIssuance() (string, map[string]any) {
	resp, body := s.post("/issuance", map[string]any{
		"template_id": "tpl_member",
		"claims":      map[string]string{"member_id": "m-1"},
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	session := body["session"].(map[string]any)
	return session["id"].(string), body
}

func (s *RouterSuite) sendEvent(sessionID, kind string, payload map[string]any) (*http.Response, map[string]any) {
	return s.post(fmt.Sprintf("/sessions/%s/events", sessionID), map[string]any{
		"kind":    kind,
		"payload": payload,
	})
}

func (s *RouterSuite) TestIssuanceFlowOverHTTP() {
	sessionID, body := s.openIssuance()

	artifact := body["artifact"].(map[string]any)
	s.Equal(protocol.ArtifactInvitation, artifact["kind"])

	session := body["session"].(map[string]any)
	s.Equal("offer-sent", session["state"])
	s.NotNil(session["status_ref"])

	resp, _ := s.sendEvent(sessionID, protocol.EventRequestReceived, nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	resp, eventBody := s.sendEvent(sessionID, protocol.EventCredentialIssued, map[string]any{
		"claims": map[string]any{"member_id": "m-1"},
	})
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("credential-issued", eventBody["state"])

	resp, eventBody = s.sendEvent(sessionID, protocol.EventCredentialAcked, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("done", eventBody["state"])
}

func (s *RouterSuite) TestIssuanceRequiresTemplateID() {
	resp, body := s.post("/issuance", map[string]any{})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("bad_request", body["error"])
}

func (s *RouterSuite) TestUnknownTemplateIs404() {
	resp, body := s.post("/issuance", map[string]any{"template_id": "tpl_nope"})
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("not_found", body["error"])
}

func (s *RouterSuite) TestOutOfOrderEventIsDroppedWithoutFailure() {
	sessionID, _ := s.openIssuance()

	// An ack in offer-sent is not applicable; the delivery is still
	// acknowledged and the session is untouched.
	resp, body := s.sendEvent(sessionID, protocol.EventCredentialAcked, nil)

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("offer-sent", body["state"])
}

func (s *RouterSuite) TestDuplicateEventDeliveryIsNotAFailure() {
	sessionID, _ := s.openIssuance()

	resp, _ := s.sendEvent(sessionID, protocol.EventRequestReceived, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp, body := s.sendEvent(sessionID, protocol.EventRequestReceived, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("request-received", body["state"])
}

func (s *RouterSuite) TestGetSession() {
	sessionID, _ := s.openIssuance()

	resp, body := s.get("/sessions/" + sessionID)

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(sessionID, body["id"])
	s.Equal("issuance", body["kind"])

	resp, body = s.get("/sessions/sess_missing")
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("not_found", body["error"])
}

func (s *RouterSuite) TestCancelSession() {
	sessionID, _ := s.openIssuance()

	resp, body := s.post("/sessions/"+sessionID+"/cancel", map[string]any{})

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("abandoned", body["state"])
}

func (s *RouterSuite) TestRevokeAndPublishStatusList() {
	sessionID, body := s.openIssuance()
	session := body["session"].(map[string]any)
	statusRef := session["status_ref"].(map[string]any)
	listID := statusRef["status_list_id"].(string)

	// Revocation before issuance is rejected.
	resp, errBody := s.post("/sessions/"+sessionID+"/revoke", map[string]any{})
	s.Equal(http.StatusConflict, resp.StatusCode)
	s.Equal("session_not_issued", errBody["error"])

	s.sendEvent(sessionID, protocol.EventRequestReceived, nil)
	s.sendEvent(sessionID, protocol.EventCredentialIssued, map[string]any{
		"claims": map[string]any{"member_id": "m-1"},
	})

	resp, _ = s.post("/sessions/"+sessionID+"/revoke", map[string]any{})
	s.Equal(http.StatusNoContent, resp.StatusCode)

	resp, doc := s.get("/status-lists/" + listID)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("revocation", doc["purpose"])
	s.NotEmpty(doc["encodedList"])
}

func (s *RouterSuite) TestCorrelatedEventDelivery() {
	resp, body := s.post("/verification", map[string]any{"template_id": "tpl_age"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	session := body["session"].(map[string]any)
	correlation := session["correlation"].(map[string]any)
	threadID := correlation[models.CorrelationThreadID].(string)

	resp, eventBody := s.post("/events", map[string]any{
		"kind":              protocol.EventPresentationReceived,
		"correlation_key":   models.CorrelationThreadID,
		"correlation_value": threadID,
		"payload": map[string]any{
			"claims": map[string]any{"birth_date": "1990-01-01"},
		},
	})

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("response-verified", eventBody["state"])
}

func (s *RouterSuite) TestHealthEndpoints() {
	resp, _ := s.get("/healthz")
	s.Equal(http.StatusOK, resp.StatusCode)

	resp, err := http.Get(s.server.URL + "/metrics")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
