package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/pranaflow/pkg/audio"
	"github.com/MrWong99/pranaflow/pkg/live"
	"github.com/MrWong99/pranaflow/pkg/live/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("read: %v", err)
		return nil
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Errorf("unmarshal: %v", err)
	}
	return msg
}

func send(conn *websocket.Conn, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

// handshake consumes session.update and confirms it.
func handshake(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	msg := read(t, conn)
	send(conn, map[string]any{"type": "session.updated"})
	return msg
}

func next(t *testing.T, ch live.Channel) live.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

func dial(t *testing.T, url string, cfg live.SessionConfig) live.Channel {
	t.Helper()
	ch, err := openai.New("sk-test", openai.WithBaseURL(url), openai.WithModel("rt-model")).Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_SessionUpdate(t *testing.T) {
	t.Parallel()

	type request struct {
		auth, beta, model string
		update            map[string]any
	}
	reqCh := make(chan request, 1)
	url := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		reqCh <- request{
			auth:   r.Header.Get("Authorization"),
			beta:   r.Header.Get("OpenAI-Beta"),
			model:  r.URL.Query().Get("model"),
			update: handshake(t, conn),
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	ch := dial(t, url, live.SessionConfig{
		Voice:        "alloy",
		Instructions: "guide the breath",
		Tools:        []live.ToolDeclaration{{Name: "setBreathingExercise", Parameters: map[string]any{"type": "object"}}},
	})
	if _, ok := next(t, ch).(live.Opened); !ok {
		t.Fatal("first event is not Opened")
	}

	req := <-reqCh
	if req.auth != "Bearer sk-test" || req.beta != "realtime=v1" || req.model != "rt-model" {
		t.Errorf("request = %+v", req)
	}
	if req.update["type"] != "session.update" {
		t.Fatalf("type = %v", req.update["type"])
	}
	sess := req.update["session"].(map[string]any)
	if sess["voice"] != "alloy" || sess["instructions"] != "guide the breath" {
		t.Errorf("session = %v", sess)
	}
	if sess["input_audio_format"] != "pcm16" || sess["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v / %v", sess["input_audio_format"], sess["output_audio_format"])
	}
	tool := sess["tools"].([]any)[0].(map[string]any)
	if tool["type"] != "function" || tool["name"] != "setBreathingExercise" {
		t.Errorf("tool = %v", tool)
	}
}

func TestChannel_SendAudioResamples(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		got <- read(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	ch := dial(t, url, live.SessionConfig{})
	next(t, ch)

	// 160 samples at 16 kHz become 240 samples at 24 kHz.
	frame := audio.AudioFrame{Data: audio.Silence(160), SampleRate: 16000, Channels: 1}
	if err := ch.SendAudio(frame); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-got:
		if msg["type"] != "input_audio_buffer.append" {
			t.Fatalf("type = %v", msg["type"])
		}
		pcm, _ := base64.StdEncoding.DecodeString(msg["audio"].(string))
		if len(pcm) != 240*audio.BytesPerSample {
			t.Errorf("appended %d bytes, want %d", len(pcm), 240*audio.BytesPerSample)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for append")
	}
}

func TestChannel_InboundEvents(t *testing.T) {
	t.Parallel()

	pcm := []byte{9, 0, 8, 0}
	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		send(conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Inhale"})
		send(conn, map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm)})
		send(conn, map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "I feel calm"})
		send(conn, map[string]any{
			"type":      "response.function_call_arguments.done",
			"call_id":   "call_1",
			"name":      "setWalkingCadence",
			"arguments": `{"spm":114}`,
		})
		send(conn, map[string]any{"type": "response.done"})
		send(conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		<-conn.CloseRead(context.Background()).Done()
	})
	ch := dial(t, url, live.SessionConfig{})
	next(t, ch)

	if ev, ok := next(t, ch).(live.TranscriptDelta); !ok || ev.Text != "Inhale" {
		t.Fatalf("expected TranscriptDelta, got %#v", ev)
	}
	chunk, ok := next(t, ch).(live.AudioChunk)
	if !ok || chunk.MIMEType != "audio/pcm;rate=24000" || string(chunk.Data) != string(pcm) {
		t.Fatalf("expected AudioChunk, got %#v", chunk)
	}
	if ev, ok := next(t, ch).(live.UserTranscriptDelta); !ok || ev.Text != "I feel calm" {
		t.Fatalf("expected UserTranscriptDelta, got %#v", ev)
	}
	call, ok := next(t, ch).(live.ToolCall)
	if !ok || call.ID != "call_1" || call.Args["spm"] != float64(114) {
		t.Fatalf("expected ToolCall, got %#v", call)
	}
	if _, ok := next(t, ch).(live.TurnComplete); !ok {
		t.Fatal("expected TurnComplete")
	}
	if _, ok := next(t, ch).(live.Interruption); !ok {
		t.Fatal("expected Interruption")
	}
}

func TestChannel_SendToolResponse(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 2)
	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		got <- read(t, conn)
		got <- read(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	ch := dial(t, url, live.SessionConfig{})
	next(t, ch)

	if err := ch.SendToolResponse(live.ToolResponse{ID: "call_1", Name: "setWalkingCadence", Result: map[string]any{"result": "ok"}}); err != nil {
		t.Fatalf("SendToolResponse: %v", err)
	}

	item := <-got
	if item["type"] != "conversation.item.create" {
		t.Fatalf("first message type = %v", item["type"])
	}
	body := item["item"].(map[string]any)
	if body["type"] != "function_call_output" || body["call_id"] != "call_1" || body["output"] != `{"result":"ok"}` {
		t.Errorf("item = %v", body)
	}
	if create := <-got; create["type"] != "response.create" {
		t.Errorf("second message type = %v", create["type"])
	}
}

func TestChannel_ErrorBeforeOpenIsTerminal(t *testing.T) {
	t.Parallel()

	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		read(t, conn)
		send(conn, map[string]any{"type": "error", "error": map[string]any{"message": "invalid voice"}})
		<-conn.CloseRead(context.Background()).Done()
	})
	ch := dial(t, url, live.SessionConfig{})

	ev, ok := next(t, ch).(live.ChannelError)
	if !ok || !strings.Contains(ev.Err.Error(), "invalid voice") {
		t.Fatalf("expected ChannelError, got %#v", ev)
	}
}

func TestChannel_ErrorAfterOpenIsLogged(t *testing.T) {
	t.Parallel()

	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		send(conn, map[string]any{"type": "error", "error": map[string]any{"message": "buffer too small"}})
		send(conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})
	ch := dial(t, url, live.SessionConfig{})
	next(t, ch)

	if _, ok := next(t, ch).(live.TurnComplete); !ok {
		t.Fatal("non-fatal error should not end the stream")
	}
}

func TestChannel_RemoteClose(t *testing.T) {
	t.Parallel()

	url := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		conn.Close(websocket.StatusGoingAway, "session expired")
	})
	ch := dial(t, url, live.SessionConfig{})
	next(t, ch)

	closed, ok := next(t, ch).(live.ChannelClosed)
	if !ok || closed.Code != int(websocket.StatusGoingAway) || closed.Reason != "session expired" {
		t.Fatalf("expected ChannelClosed, got %#v", closed)
	}
}
