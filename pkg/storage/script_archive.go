package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"edaagent/pkg/domain"
)

const (
	scriptContentType    = "text/x-python"
	defaultPresignExpiry = 15 * time.Minute
)

// ScriptArchive keeps a downloadable copy of every saved Fusion 360 script.
type ScriptArchive struct {
	objects ObjectStore
	appID   string
	expiry  time.Duration
}

// NewScriptArchive stores scripts under designs/{appID}/.
func NewScriptArchive(objects ObjectStore, appID string, expiry time.Duration) *ScriptArchive {
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &ScriptArchive{objects: objects, appID: appID, expiry: expiry}
}

// Key returns the object key for a design script.
func (a *ScriptArchive) Key(userID, designID string) string {
	return fmt.Sprintf("designs/%s/%s/%s.py", a.appID, userID, designID)
}

// Store uploads rec's script. It matches store.AfterSaveHook.
func (a *ScriptArchive) Store(ctx context.Context, rec domain.DesignRecord) error {
	body := strings.NewReader(rec.Script)
	if err := a.objects.Put(ctx, a.Key(rec.UserID, rec.ID), body, body.Size(), scriptContentType); err != nil {
		return fmt.Errorf("archive script %s: %w", rec.ID, err)
	}
	return nil
}

// URL returns a time-limited download link for a design script.
func (a *ScriptArchive) URL(ctx context.Context, userID, designID string) (string, error) {
	return a.objects.PresignGet(ctx, a.Key(userID, designID), a.expiry)
}
