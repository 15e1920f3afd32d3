package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertion)
var _ Model = (*MockModel)(nil)

func drain(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	var responses []Response
	for resp := range respCh {
		responses = append(responses, resp)
	}
	for err := range errCh {
		if err != nil {
			return responses, err
		}
	}
	return responses, nil
}

func TestMockModel_NonStreaming(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("hello", "world")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{UserMessage("hello")},
	})

	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].Partial)
	assert.Equal(t, "world", responses[0].Message.Text())
	assert.Equal(t, "stop", responses[0].FinishReason)
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("hello", "world")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{UserMessage("hello")},
		Stream:   true,
	})

	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)

	// One partial per rune plus the final response.
	require.Len(t, responses, len("world")+1)

	var streamed string
	for _, resp := range responses[:len(responses)-1] {
		assert.True(t, resp.Partial)
		streamed += resp.Message.Text()
	}

	final := responses[len(responses)-1]
	assert.False(t, final.Partial)
	// Concatenated chunks equal the complete text.
	assert.Equal(t, final.Message.Text(), streamed)
}

func TestMockModel_ScriptedToolCall(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddToolCall("weather?", FunctionCall{ID: "fc-1", Name: "get_weather", Arguments: `{"city":"berlin"}`})
	m.AddResponse("weather?", "sunny")

	// First turn requests the tool.
	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{UserMessage("weather?")},
	})
	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	calls := responses[0].Message.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)

	// Second turn, with the observation present, produces the final text.
	respCh, errCh = m.Generate(context.Background(), Request{
		Messages: []Message{
			UserMessage("weather?"),
			responses[0].Message,
			{Role: "tool", Parts: []Part{FunctionResponsePart{
				FunctionResponse: FunctionResponse{ID: "fc-1", Name: "get_weather", Response: "22C"},
			}}},
		},
	})
	responses, err = drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "sunny", responses[0].Message.Text())
}

func TestMessage_Helpers(t *testing.T) {
	msg := Message{
		Role: "assistant",
		Parts: []Part{
			TextPart{Text: "let me check"},
			FunctionCallPart{FunctionCall: FunctionCall{ID: "1", Name: "lookup"}},
			TextPart{Text: " now"},
		},
	}

	assert.Equal(t, "let me check now", msg.Text())
	require.Len(t, msg.FunctionCalls(), 1)
	assert.Equal(t, "lookup", msg.FunctionCalls()[0].Name)
}

func TestMockModel_NoMessages(t *testing.T) {
	m := NewMockModel("test-model")
	respCh, errCh := m.Generate(context.Background(), Request{})
	_, err := drain(t, respCh, errCh)
	assert.Error(t, err)
}
