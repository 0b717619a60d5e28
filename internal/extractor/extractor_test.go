package extractor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/triage/internal/conversation"
	"github.com/MikeSquared-Agency/triage/internal/llm/llmtest"
	"github.com/MikeSquared-Agency/triage/internal/symptoms"
)

const (
	partialReply = `{"fatigue": "yes", "pain": "chest"}`
	fullReply    = `{"fever": "high", "cough": "present", "fatigue": "yes", "pain": "chest", "duration": "2 days", "location": "chest"}`
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtract_MultiTurnCompletion(t *testing.T) {
	gen := llmtest.NewScripted(partialReply, "Do you have a fever or a cough?", fullReply)
	ext := New(gen, discardLogger())
	ctx := context.Background()

	log1 := conversation.Log{conversation.UserTurn("I feel tired and my chest hurts")}
	res1, err := ext.Extract(ctx, log1)
	require.NoError(t, err)

	assert.Equal(t, StatusIncomplete, res1.Status)
	assert.True(t, res1.Record.IsZero())
	require.Len(t, res1.Log, 2)
	last, _ := res1.Log.Last()
	assert.Equal(t, conversation.RoleAssistant, last.Role)
	assert.Equal(t, "Do you have a fever or a cough?", last.Content)
	assert.Equal(t, last.Content, res1.Clarification)
	assert.Len(t, log1, 1, "caller log must not be mutated")

	log2 := res1.Log.With(conversation.UserTurn("I also have a high fever, cough, for 2 days in my chest area"))
	res2, err := ext.Extract(ctx, log2)
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, res2.Status)
	assert.Equal(t, log2, res2.Log)
	assert.Empty(t, res2.Clarification)
	for _, f := range symptoms.Fields {
		v, ok := res2.Record.Get(f)
		assert.True(t, ok, f)
		assert.NotEmpty(t, v, f)
	}

	rebuilt, err := symptoms.FromMap(res2.Record.Map())
	require.NoError(t, err)
	assert.NoError(t, rebuilt.Validate())

	assert.Equal(t, StateDone, ext.State())
	assert.Equal(t, 3, gen.Calls())
}

func TestExtract_CompleteRecordVerbatim(t *testing.T) {
	ext := New(llmtest.NewScripted(fullReply), discardLogger())

	res, err := ext.Extract(context.Background(), conversation.Log{conversation.UserTurn("everything at once")})
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, map[string]string{
		"fever": "high", "cough": "present", "fatigue": "yes",
		"pain": "chest", "duration": "2 days", "location": "chest",
	}, res.Record.Map())
}

func TestExtract_ClarificationNamesMissingFields(t *testing.T) {
	gen := llmtest.NewScripted(partialReply, "When did it start?")
	ext := New(gen, discardLogger())

	_, err := ext.Extract(context.Background(), conversation.Log{conversation.UserTurn("tired, chest pain")})
	require.NoError(t, err)

	prompts := gen.Prompts()
	require.Len(t, prompts, 2)
	request := prompts[1].Messages[len(prompts[1].Messages)-1].Content
	assert.Contains(t, request, "fever, cough, duration, location")
	assert.NotContains(t, request, "fatigue")
}

func TestExtract_MalformedJSONIsIncomplete(t *testing.T) {
	gen := llmtest.NewScripted("I think the patient has a cold.", "Could you describe your symptoms?")
	ext := New(gen, discardLogger())

	res, err := ext.Extract(context.Background(), conversation.Log{conversation.UserTurn("hi")})
	require.NoError(t, err)

	assert.Equal(t, StatusIncomplete, res.Status)
	assert.True(t, res.Record.IsZero())
	assert.Len(t, res.Log, 2)

	request := gen.Prompts()[1].Messages
	assert.Contains(t, request[len(request)-1].Content, strings.Join(symptoms.Fields, ", "))
}

func TestExtract_EventuallyCompletes(t *testing.T) {
	responses := []string{}
	for i := 0; i < 4; i++ {
		responses = append(responses, partialReply, "tell me more")
	}
	responses = append(responses, fullReply)

	ext := New(llmtest.NewScripted(responses...), discardLogger())
	ctx := context.Background()

	log := conversation.Log{}
	var res TurnResult
	for turn := 0; turn < 5; turn++ {
		log = log.With(conversation.UserTurn("more detail"))
		var err error
		res, err = ext.Extract(ctx, log)
		require.NoError(t, err)
		log = res.Log
	}

	assert.Equal(t, StatusComplete, res.Status)
	// 5 user turns + 4 clarifications, each retained exactly once.
	assert.Equal(t, 9, len(ext.Memory()))
}

func TestExtract_OverlappingHistoryIsNotDuplicated(t *testing.T) {
	gen := llmtest.NewScripted(partialReply, "fever?")
	ext := New(gen, discardLogger())
	ctx := context.Background()

	log := conversation.Log{conversation.UserTurn("tired")}
	res, err := ext.Extract(ctx, log)
	require.NoError(t, err)

	_, err = ext.Extract(ctx, res.Log)
	require.NoError(t, err)
	_, err = ext.Extract(ctx, res.Log)
	require.NoError(t, err)

	// tired, fever?, fever?, fever? -- one clarification per incomplete turn,
	// the replayed user turn is retained once.
	mem := ext.Memory()
	users := 0
	for _, turn := range mem {
		if turn.Role == conversation.RoleUser {
			users++
		}
	}
	assert.Equal(t, 1, users)
	assert.Len(t, mem, 4)
}

func TestExtract_HistoryIsThreadedIntoPrompt(t *testing.T) {
	gen := llmtest.NewScripted(partialReply, "fever?", fullReply)
	ext := New(gen, discardLogger())
	ctx := context.Background()

	res, err := ext.Extract(ctx, conversation.Log{conversation.UserTurn("tired")})
	require.NoError(t, err)
	_, err = ext.Extract(ctx, res.Log.With(conversation.UserTurn("yes, high")))
	require.NoError(t, err)

	third := gen.Prompts()[2]
	require.Len(t, third.Messages, 4)
	assert.Equal(t, "tired", third.Messages[0].Content)
	assert.Equal(t, "fever?", third.Messages[1].Content)
	assert.Equal(t, "yes, high", third.Messages[2].Content)
	assert.Equal(t, extractionInstruction, third.Messages[3].Content)
	assert.Equal(t, systemPrompt, third.System)
}

func TestExtract_DoneIsTerminal(t *testing.T) {
	gen := llmtest.NewScripted(fullReply)
	ext := New(gen, discardLogger())
	ctx := context.Background()

	first, err := ext.Extract(ctx, conversation.Log{conversation.UserTurn("all symptoms")})
	require.NoError(t, err)

	log := first.Log.With(conversation.UserTurn("anything else?"))
	again, err := ext.Extract(ctx, log)
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, again.Status)
	assert.Equal(t, first.Record, again.Record)
	assert.Equal(t, log, again.Log)
	assert.Equal(t, 1, gen.Calls())
}

func TestExtract_EmptyLog(t *testing.T) {
	gen := llmtest.NewScripted("Hello! How are you feeling today?")
	ext := New(gen, discardLogger())

	res, err := ext.Extract(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusIncomplete, res.Status)
	assert.Len(t, res.Log, 1)
	assert.Equal(t, 1, gen.Calls(), "extraction is skipped when there is nothing to analyse")
}

func TestExtract_EmptyClarificationFallsBack(t *testing.T) {
	gen := llmtest.NewScripted(partialReply, "   ")
	ext := New(gen, discardLogger())

	res, err := ext.Extract(context.Background(), conversation.Log{conversation.UserTurn("tired")})
	require.NoError(t, err)

	assert.Equal(t, "Could you tell me a bit more about your fever, cough, duration and location?", res.Clarification)
}

func TestExtract_GeneratorFailureSurfaces(t *testing.T) {
	boom := errors.New("service unavailable")
	gen := llmtest.NewScripted(fullReply)
	gen.FailWith(boom)
	ext := New(gen, discardLogger())

	log := conversation.Log{conversation.UserTurn("tired")}
	_, err := ext.Extract(context.Background(), log)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateCollecting, ext.State())
}
