package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/marlinquant/marlin-trading/internal/logger"
	"github.com/marlinquant/marlin-trading/internal/metrics"
	"github.com/marlinquant/marlin-trading/internal/position"
)

type ServerTestSuite struct {
	suite.Suite
	tracker *position.Tracker
	server  *Server
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	s.tracker = position.NewTracker(nil)
	s.server = NewServer(":0", s.tracker, metrics.New(), logger.NewNopLogger())
}

func (s *ServerTestSuite) get(path string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, path, nil)
	s.server.Handler().ServeHTTP(recorder, request)

	return recorder
}

func (s *ServerTestSuite) TestHealthz() {
	recorder := s.get("/healthz")
	s.Assert().Equal(http.StatusOK, recorder.Code)
	s.Assert().Equal("ok", recorder.Body.String())
}

func (s *ServerTestSuite) TestStatusReportsPositions() {
	err := s.tracker.BeginEntry("EURUSD", position.EntryIntent{
		Direction:     "LONG",
		ClientOrderID: "EURUSD-LONG-1",
		Quantity:      100,
		StopPrice:     1.07,
		TargetPrice:   1.10,
	})
	s.Require().NoError(err)

	recorder := s.get("/status")
	s.Require().Equal(http.StatusOK, recorder.Code)

	var response statusResponse

	s.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &response))
	s.Require().Len(response.Positions, 1)
	s.Assert().Equal("EURUSD", response.Positions[0].Symbol)
	s.Assert().Equal("PENDING_ENTRY", response.Positions[0].State)
	s.Assert().Equal("EURUSD-LONG-1", response.Positions[0].ClientOrderID)
}

func (s *ServerTestSuite) TestMetricsEndpoint() {
	m := metrics.New()
	m.BarsTotal.WithLabelValues("EURUSD").Inc()

	server := NewServer(":0", s.tracker, m, logger.NewNopLogger())

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	server.Handler().ServeHTTP(recorder, request)

	s.Require().Equal(http.StatusOK, recorder.Code)
	s.Assert().Contains(recorder.Body.String(), "trader_bars_total")
}
