package egress

import (
	"context"
	"testing"
)

type recordingPublisher struct{ actions []Action }

func (r *recordingPublisher) Publish(ctx context.Context, action Action) error {
	r.actions = append(r.actions, action)
	return nil
}

func TestNoopPublisher_DiscardsAction(t *testing.T) {
	var p Publisher = NoopPublisher{}
	if err := p.Publish(context.Background(), Action{Kind: ActionPostComment, Body: "hi"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestPublisher_ReceivesActionFields(t *testing.T) {
	rec := &recordingPublisher{}
	var p Publisher = rec
	if err := p.Publish(context.Background(), Action{Kind: ActionUpdateStatus, ExternalID: "GH-1", NewStatus: "done"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(rec.actions) != 1 || rec.actions[0].ExternalID != "GH-1" {
		t.Fatalf("expected action recorded with external id, got %+v", rec.actions)
	}
}
