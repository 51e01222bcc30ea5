package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"frontdesk/queue-service/internal/models"
	"frontdesk/queue-service/internal/store"
)

type fakeStore struct {
	issueTicket         func(ctx context.Context, input store.IssueTicketInput) (models.Ticket, models.DailyQuota, bool, error)
	callNext            func(ctx context.Context, input store.CallNextInput) (models.Ticket, models.DailyQuota, bool, error)
	serveTicket         func(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error)
	skipTicket          func(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error)
	getTicket           func(ctx context.Context, ticketID string) (models.Ticket, int, error)
	getOrCreateQuota    func(ctx context.Context, doctorID string, date time.Time) (models.DailyQuota, error)
	setQuotaStatus      func(ctx context.Context, input store.SetQuotaStatusInput) (models.DailyQuota, error)
	generateDailyQuotas func(ctx context.Context, date time.Time) (int, error)
	listQuotas          func(ctx context.Context, date time.Time) ([]models.DailyQuota, error)
	snapshotTickets     func(ctx context.Context, doctorID string, date time.Time) ([]models.Ticket, error)
	listOutboxEvents    func(ctx context.Context, after int64, limit int) ([]store.OutboxEvent, error)
	listClinics         func(ctx context.Context) ([]models.Clinic, error)
	listDoctors         func(ctx context.Context, clinicID string) ([]models.Doctor, error)
}

func (f *fakeStore) IssueTicket(ctx context.Context, input store.IssueTicketInput) (models.Ticket, models.DailyQuota, bool, error) {
	return f.issueTicket(ctx, input)
}

func (f *fakeStore) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, models.DailyQuota, bool, error) {
	return f.callNext(ctx, input)
}

func (f *fakeStore) ServeTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return f.serveTicket(ctx, input)
}

func (f *fakeStore) SkipTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return f.skipTicket(ctx, input)
}

func (f *fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, int, error) {
	return f.getTicket(ctx, ticketID)
}

func (f *fakeStore) GetOrCreateQuota(ctx context.Context, doctorID string, date time.Time) (models.DailyQuota, error) {
	return f.getOrCreateQuota(ctx, doctorID, date)
}

func (f *fakeStore) SetQuotaStatus(ctx context.Context, input store.SetQuotaStatusInput) (models.DailyQuota, error) {
	return f.setQuotaStatus(ctx, input)
}

func (f *fakeStore) GenerateDailyQuotas(ctx context.Context, date time.Time) (int, error) {
	return f.generateDailyQuotas(ctx, date)
}

func (f *fakeStore) ListQuotas(ctx context.Context, date time.Time) ([]models.DailyQuota, error) {
	return f.listQuotas(ctx, date)
}

func (f *fakeStore) SnapshotTickets(ctx context.Context, doctorID string, date time.Time) ([]models.Ticket, error) {
	return f.snapshotTickets(ctx, doctorID, date)
}

func (f *fakeStore) ListOutboxEvents(ctx context.Context, after int64, limit int) ([]store.OutboxEvent, error) {
	return f.listOutboxEvents(ctx, after, limit)
}

func (f *fakeStore) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	return f.listClinics(ctx)
}

func (f *fakeStore) ListDoctors(ctx context.Context, clinicID string) ([]models.Doctor, error) {
	return f.listDoctors(ctx, clinicID)
}

const (
	testRequestID = "3f1fdc1e-5f01-4b6f-9c2e-0a8f1e5d9b11"
	testDoctorID  = "7a0c2f34-9d7b-4f4e-8a1c-2b3d4e5f6a70"
	testTicketID  = "c5b4a391-2817-46d5-b0e9-f8a7c6d5e4b3"
)

func postJSON(t *testing.T, handler http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestIssueTicketSuccess(t *testing.T) {
	var got store.IssueTicketInput
	st := &fakeStore{
		issueTicket: func(ctx context.Context, input store.IssueTicketInput) (models.Ticket, models.DailyQuota, bool, error) {
			got = input
			return models.Ticket{
					TicketID:       testTicketID,
					DoctorID:       input.DoctorID,
					SequenceNumber: 7,
					DisplayCode:    "AS-007",
					Status:         models.StatusWaiting,
				}, models.DailyQuota{
					DoctorID:     input.DoctorID,
					MaxQuota:     30,
					CurrentCount: 7,
					Status:       models.QuotaOpen,
				}, true, nil
		},
	}
	handler := NewHandler(st).Routes()

	rec := postJSON(t, handler, "/api/tickets", issueTicketRequest{
		RequestID: testRequestID,
		DoctorID:  testDoctorID,
		Date:      "2026-03-02",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp queueResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Ticket.DisplayCode != "AS-007" {
		t.Fatalf("display_code = %q, want %q", resp.Ticket.DisplayCode, "AS-007")
	}
	if got.RequestID != testRequestID || got.DoctorID != testDoctorID {
		t.Fatalf("store input = %+v", got)
	}
	if store.DateKey(got.Date) != "2026-03-02" {
		t.Fatalf("date = %s, want 2026-03-02", store.DateKey(got.Date))
	}
}

func TestIssueTicketValidation(t *testing.T) {
	st := &fakeStore{
		issueTicket: func(ctx context.Context, input store.IssueTicketInput) (models.Ticket, models.DailyQuota, bool, error) {
			t.Fatal("store should not be reached")
			return models.Ticket{}, models.DailyQuota{}, false, nil
		},
	}
	handler := NewHandler(st).Routes()

	cases := []struct {
		name string
		req  issueTicketRequest
	}{
		{"missing request_id", issueTicketRequest{DoctorID: testDoctorID}},
		{"missing doctor_id", issueTicketRequest{RequestID: testRequestID}},
		{"malformed doctor_id", issueTicketRequest{RequestID: testRequestID, DoctorID: "not-a-uuid"}},
		{"malformed date", issueTicketRequest{RequestID: testRequestID, DoctorID: testDoctorID, Date: "02-03-2026"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/api/tickets", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestIssueTicketRefusalCodes(t *testing.T) {
	cases := []struct {
		name       string
		storeErr   error
		wantStatus int
		wantCode   string
	}{
		{"quota full", store.ErrQuotaFull, http.StatusConflict, "quota_full"},
		{"quota closed", store.ErrQuotaClosed, http.StatusConflict, "quota_closed"},
		{"quota break", store.ErrQuotaBreak, http.StatusConflict, "quota_break"},
		{"doctor missing", store.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := &fakeStore{
				issueTicket: func(ctx context.Context, input store.IssueTicketInput) (models.Ticket, models.DailyQuota, bool, error) {
					return models.Ticket{}, models.DailyQuota{}, false, tc.storeErr
				},
			}
			handler := NewHandler(st).Routes()

			rec := postJSON(t, handler, "/api/tickets", issueTicketRequest{
				RequestID: testRequestID,
				DoctorID:  testDoctorID,
			})
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if code := decodeErrorCode(t, rec); code != tc.wantCode {
				t.Fatalf("code = %q, want %q", code, tc.wantCode)
			}
		})
	}
}

func TestCallNextEmptyQueueReturnsNoContent(t *testing.T) {
	st := &fakeStore{
		callNext: func(ctx context.Context, input store.CallNextInput) (models.Ticket, models.DailyQuota, bool, error) {
			return models.Ticket{}, models.DailyQuota{}, false, store.ErrNoTicket
		},
	}
	handler := NewHandler(st).Routes()

	rec := postJSON(t, handler, "/api/tickets/actions/call-next", callNextRequest{
		RequestID: testRequestID,
		DoctorID:  testDoctorID,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body = %q, want empty", rec.Body.String())
	}
}

func TestCallNextSuccess(t *testing.T) {
	st := &fakeStore{
		callNext: func(ctx context.Context, input store.CallNextInput) (models.Ticket, models.DailyQuota, bool, error) {
			return models.Ticket{
				TicketID:    testTicketID,
				DoctorID:    input.DoctorID,
				DisplayCode: "AS-003",
				Status:      models.StatusCalled,
			}, models.DailyQuota{DoctorID: input.DoctorID}, true, nil
		},
	}
	handler := NewHandler(st).Routes()

	rec := postJSON(t, handler, "/api/tickets/actions/call-next", callNextRequest{
		RequestID: testRequestID,
		DoctorID:  testDoctorID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp queueResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Ticket.Status != models.StatusCalled {
		t.Fatalf("status = %q, want %q", resp.Ticket.Status, models.StatusCalled)
	}
}

func TestTicketActions(t *testing.T) {
	var servedInput, skippedInput store.TicketActionInput
	st := &fakeStore{
		serveTicket: func(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
			servedInput = input
			return models.Ticket{TicketID: input.TicketID, Status: models.StatusServed}, true, nil
		},
		skipTicket: func(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
			skippedInput = input
			return models.Ticket{TicketID: input.TicketID, Status: models.StatusSkipped}, true, nil
		},
	}
	handler := NewHandler(st).Routes()

	rec := postJSON(t, handler, "/api/tickets/"+testTicketID+"/actions/serve", ticketActionRequest{RequestID: testRequestID})
	if rec.Code != http.StatusOK {
		t.Fatalf("serve status = %d, body %s", rec.Code, rec.Body.String())
	}
	if servedInput.TicketID != testTicketID {
		t.Fatalf("serve ticket_id = %q, want %q", servedInput.TicketID, testTicketID)
	}

	rec = postJSON(t, handler, "/api/tickets/"+testTicketID+"/actions/skip", ticketActionRequest{RequestID: testRequestID})
	if rec.Code != http.StatusOK {
		t.Fatalf("skip status = %d, body %s", rec.Code, rec.Body.String())
	}
	if skippedInput.TicketID != testTicketID {
		t.Fatalf("skip ticket_id = %q, want %q", skippedInput.TicketID, testTicketID)
	}

	rec = postJSON(t, handler, "/api/tickets/"+testTicketID+"/actions/cancel", ticketActionRequest{RequestID: testRequestID})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServeInvalidStateConflicts(t *testing.T) {
	st := &fakeStore{
		serveTicket: func(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
			return models.Ticket{}, false, store.ErrInvalidState
		},
	}
	handler := NewHandler(st).Routes()

	rec := postJSON(t, handler, "/api/tickets/"+testTicketID+"/actions/serve", ticketActionRequest{RequestID: testRequestID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_state" {
		t.Fatalf("code = %q, want invalid_state", code)
	}
}

func TestGetTicketReturnsAheadCount(t *testing.T) {
	st := &fakeStore{
		getTicket: func(ctx context.Context, ticketID string) (models.Ticket, int, error) {
			return models.Ticket{TicketID: ticketID, Status: models.StatusWaiting, SequenceNumber: 5}, 4, nil
		},
	}
	handler := NewHandler(st).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/"+testTicketID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ticketStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AheadCount != 4 {
		t.Fatalf("ahead_count = %d, want 4", resp.AheadCount)
	}
}

func TestSetDoctorStatusValidatesPayload(t *testing.T) {
	st := &fakeStore{
		setQuotaStatus: func(ctx context.Context, input store.SetQuotaStatusInput) (models.DailyQuota, error) {
			return models.DailyQuota{DoctorID: input.DoctorID, Status: input.Status, MaxQuota: input.MaxQuota}, nil
		},
	}
	handler := NewHandler(st).Routes()

	rec := postJSON(t, handler, "/api/doctors/"+testDoctorID+"/status", setStatusRequest{Status: "paused", MaxQuota: 20})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = postJSON(t, handler, "/api/doctors/"+testDoctorID+"/status", setStatusRequest{Status: "break", MaxQuota: 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero quota: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = postJSON(t, handler, "/api/doctors/"+testDoctorID+"/status", setStatusRequest{Status: "break", MaxQuota: 20, Date: "2026-03-02"})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid: status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSetDoctorStatusBelowCountConflicts(t *testing.T) {
	st := &fakeStore{
		setQuotaStatus: func(ctx context.Context, input store.SetQuotaStatusInput) (models.DailyQuota, error) {
			return models.DailyQuota{}, store.ErrQuotaBelowCount
		},
	}
	handler := NewHandler(st).Routes()

	rec := postJSON(t, handler, "/api/doctors/"+testDoctorID+"/status", setStatusRequest{Status: "open", MaxQuota: 3})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if code := decodeErrorCode(t, rec); code != "quota_below_count" {
		t.Fatalf("code = %q, want quota_below_count", code)
	}
}

func TestGenerateQuotas(t *testing.T) {
	st := &fakeStore{
		generateDailyQuotas: func(ctx context.Context, date time.Time) (int, error) {
			return 12, nil
		},
	}
	handler := NewHandler(st).Routes()

	rec := postJSON(t, handler, "/api/quotas/actions/generate", generateQuotasRequest{Date: "2026-03-02"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp generateQuotasResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Created != 12 || resp.Date != "2026-03-02" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestListEventsParsesCursor(t *testing.T) {
	var gotAfter int64
	var gotLimit int
	st := &fakeStore{
		listOutboxEvents: func(ctx context.Context, after int64, limit int) ([]store.OutboxEvent, error) {
			gotAfter, gotLimit = after, limit
			return []store.OutboxEvent{{Seq: after + 1, Type: store.EventTicketIssued}}, nil
		},
	}
	handler := NewHandler(st).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/events?after=42&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotAfter != 42 || gotLimit != 10 {
		t.Fatalf("after = %d, limit = %d", gotAfter, gotLimit)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/events?after=-1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative cursor: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSnapshotRequiresDoctor(t *testing.T) {
	st := &fakeStore{
		snapshotTickets: func(ctx context.Context, doctorID string, date time.Time) ([]models.Ticket, error) {
			return []models.Ticket{{DisplayCode: "AS-001", Status: models.StatusCalled}}, nil
		},
	}
	handler := NewHandler(st).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/snapshot", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing doctor: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tickets/snapshot?doctor_id="+testDoctorID+"&date=2026-03-02", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := NewHandler(&fakeStore{}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
