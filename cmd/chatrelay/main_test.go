package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/chatrelay/internal/db/dbtest"
	"github.com/thebtf/chatrelay/internal/ledger"
	"github.com/thebtf/chatrelay/pkg/models"
)

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	setupLogging(&buf, false, false, "")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	setupLogging(&buf, false, false, "WARN")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	setupLogging(&buf, true, false, "warn")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	setupLogging(&buf, false, false, "nonsense")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestShowSession(t *testing.T) {
	store := dbtest.New()
	l := ledger.New(store, store)
	ctx := context.Background()

	_, err := l.CreateSession(ctx, "cli-1", "user_cli-1")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, showSession(ctx, l, &out, "cli-1"))
	assert.Contains(t, out.String(), `"session_id": "cli-1"`)
	assert.Contains(t, out.String(), `"status": "active"`)

	assert.Error(t, showSession(ctx, l, &out, "missing"))
}

func TestParseEventTypes(t *testing.T) {
	assert.Empty(t, parseEventTypes(""))
	assert.Equal(t,
		[]models.EventType{models.EventUserMessage, models.EventAssistantResponse},
		parseEventTypes(" user_message, ,assistant_response"))
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"serve"},
		{"session", "show"},
		{"session", "events"},
		{"session", "insights"},
		{"session", "delete"},
		{"user", "sessions"},
		{"user", "patterns"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	patterns, _, err := root.Find([]string{"user", "patterns"})
	require.NoError(t, err)
	assert.Equal(t, "5", patterns.Flags().Lookup("limit").DefValue)
}
