package server

import (
	"net/http"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/sirupsen/logrus"
)

func sessionID(r *http.Request) models.SessionID {
	return models.SessionID(r.PathValue("id"))
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var req models.NewSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.conn.NewSession(r.Context(), caller, req.SessionID, req.Watch); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.conn.Session(caller, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	sess, err := s.conn.Session(caller, sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCleanupSession(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	if err := s.conn.CleanupSession(r.Context(), caller, sessionID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFlags(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	flags, err := s.conn.Flags(caller, sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var req models.SetFlagRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := sessionID(r)
	if err := s.conn.SetFlag(caller, id, req.Flag, req.Value); err != nil {
		writeError(w, err)
		return
	}
	flags, err := s.conn.Flags(caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Server) handleGetReferrer(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	ref, err := s.conn.Referrer(caller, sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ReferrerRequest{Referrer: ref})
}

func (s *Server) handleSetReferrer(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var req models.ReferrerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.conn.SetReferrer(caller, sessionID(r), req.Referrer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	if err := s.conn.KeepAlive(r.Context(), caller, sessionID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDontKeepAlive(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	if err := s.conn.DontKeepAlive(r.Context(), caller, sessionID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateRelationship answers 202; the result arrives as an event.
func (s *Server) handleValidateRelationship(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var req models.RelationshipRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.conn.ValidateRelationship(r.Context(), caller, sessionID(r), req.Relation, req.Origin); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleWarmup(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	if err := s.conn.Warmup(r.Context(), caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleMayLaunch(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var req models.MayLaunchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.conn.MayLaunchURL(r.Context(), caller, sessionID(r), req.URL, req.Extras, req.OtherLikely); err != nil {
		s.logger.WithFields(logrus.Fields{"session": sessionID(r), "uid": caller.UID}).WithError(err).Debug("May-launch refused")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MayLaunchResponse{Allowed: true})
}

// handleTake answers 204 when there was nothing to take.
func (s *Server) handleTake(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var req models.TakeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	handoff, err := s.conn.TakeHiddenTab(r.Context(), caller, sessionID(r), req.URL, req.Referrer)
	if err != nil {
		writeError(w, err)
		return
	}
	if handoff == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, handoff)
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var req models.LaunchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := s.conn.RegisterLaunch(r.Context(), caller, sessionID(r), req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.LaunchResponse{Outcome: outcome})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	if err := s.conn.CancelSpeculation(r.Context(), caller, sessionID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanupAll(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	n, err := s.conn.CleanupAll(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CleanupResponse{Cleaned: n})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var req models.UIDRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.conn.Ban(r.Context(), caller, req.UID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var req models.UIDRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.conn.Reset(r.Context(), caller, req.UID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request, caller models.Caller) {
	var policy config.PolicyConfig
	if err := decode(r, &policy); err != nil {
		writeError(w, err)
		return
	}
	if err := s.conn.UpdatePolicy(r.Context(), caller, policy); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
