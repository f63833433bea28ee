package httptransport

import (
	"time"

	"vcbridge/internal/protocol"
	"vcbridge/internal/session/models"
	statusmodels "vcbridge/internal/statuslist/models"
)

type entryRefView struct {
	StatusListID string `json:"status_list_id"`
	Index        int    `json:"index"`
}

type sessionView struct {
	ID            string            `json:"id"`
	Kind          string            `json:"kind"`
	Protocol      string            `json:"protocol"`
	TemplateID    string            `json:"template_id"`
	State         string            `json:"state"`
	Reason        string            `json:"reason,omitempty"`
	Claims        map[string]string `json:"claims,omitempty"`
	Correlation   map[string]string `json:"correlation,omitempty"`
	StatusRef     *entryRefView     `json:"status_ref,omitempty"`
	PresentedRefs []entryRefView    `json:"presented_refs,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type artifactView struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

type openedSessionView struct {
	Session  sessionView  `json:"session"`
	Artifact artifactView `json:"artifact"`
}

func refView(ref statusmodels.EntryRef) entryRefView {
	return entryRefView{StatusListID: ref.StatusListID, Index: ref.Index}
}

func toSessionView(s *models.Session) sessionView {
	view := sessionView{
		ID:          s.ID,
		Kind:        string(s.Kind),
		Protocol:    string(s.Protocol),
		TemplateID:  s.TemplateID,
		State:       string(s.State),
		Reason:      s.Reason,
		Claims:      s.Claims,
		Correlation: s.Correlation,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.StatusRef != nil {
		ref := refView(*s.StatusRef)
		view.StatusRef = &ref
	}
	for _, ref := range s.PresentedRefs {
		view.PresentedRefs = append(view.PresentedRefs, refView(ref))
	}
	return view
}

func toOpenedView(session *models.Session, artifact *protocol.Artifact) openedSessionView {
	return openedSessionView{
		Session:  toSessionView(session),
		Artifact: artifactView{Kind: artifact.Kind, Payload: artifact.Payload},
	}
}
