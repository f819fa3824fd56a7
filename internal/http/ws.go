package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/registry"
)

var upgrader = websocket.Upgrader{}

// handleDriverWS registers the driver's channel and runs its read loop.
// Inbound accept/reject frames feed the dispatcher; the write side is owned
// by the registry. The binding is removed before the socket closes so no
// identity ever resolves to a dead channel.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ch := registry.NewWSChannel(conn)
	if prev := s.reg.Bind(driverID, ch); prev != nil {
		_ = prev.Close()
	}
	defer func() {
		s.reg.Unbind(ch)
		_ = ch.Close()
		_ = s.avail.SetOffline(r.Context(), driverID)
	}()

	for {
		var frame models.DriverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Action {
		case "accept":
			err := s.disp.Accept(r.Context(), frame.RequestID, driverID, frame.VehicleID)
			_ = ch.Send(acceptFrameResult(frame.RequestID, err))
		case "reject":
			_ = s.disp.Reject(r.Context(), frame.RequestID, driverID)
		default:
			s.logger.Debug("unknown driver frame", "driver_id", driverID, "action", frame.Action)
		}
	}
}

func acceptFrameResult(requestID string, err error) map[string]string {
	out := map[string]string{"kind": "accept_result", "request_id": requestID}
	if err == nil {
		out["result"] = "success"
	} else {
		out["result"] = acceptErrorCode(err)
	}
	return out
}

// handlePassengerWS registers the passenger's channel for assigned/expired/
// cancelled pushes. Passengers do not send frames; the loop exists to detect
// disconnect.
func (s *Server) handlePassengerWS(w http.ResponseWriter, r *http.Request) {
	passengerID := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ch := registry.NewWSChannel(conn)
	if prev := s.reg.Bind(passengerID, ch); prev != nil {
		_ = prev.Close()
	}
	defer func() {
		s.reg.Unbind(ch)
		_ = ch.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
