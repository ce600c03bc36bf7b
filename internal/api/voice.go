package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/session"
	"github.com/nidhogg/kid-companion/internal/speech"
)

// NotHeardReply answers audio that could not be transcribed.
const NotHeardReply = "Sorry, I didn't quite catch that. Could you say it again?"

const (
	voiceReadLimit  = 10 << 20
	voiceWriteWait  = 10 * time.Second
	voiceTurnWindow = 2 * time.Minute
)

// voiceFrame is the JSON text frame sent after every turn. Audio, when
// synthesized, follows as a binary frame.
type voiceFrame struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`
	Fallback   bool   `json:"fallback"`
	Audio      bool   `json:"audio"`
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// voice runs a turn per websocket message. Text frames are utterances;
// binary frames are audio to transcribe first.
func (h *Handler) voice(w http.ResponseWriter, r *http.Request) {
	sid := session.Normalize(r.URL.Query().Get("session"))
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("voice upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(voiceReadLimit)
	h.logger.Info("voice connected", zap.String("session", sid))

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("voice read failed", zap.String("session", sid), zap.Error(err))
			}
			return
		}

		var transcript string
		switch kind {
		case websocket.TextMessage:
			transcript = string(data)
		case websocket.BinaryMessage:
			transcript = speech.TranscriptMissingKey
			if h.stt != nil {
				transcript = h.stt.Transcribe(r.Context(), data)
			}
		default:
			continue
		}

		frame := h.voiceTurn(r, sid, transcript)
		var audio []byte
		if h.tts != nil && frame.Reply != "" {
			audio = h.tts.Synthesize(r.Context(), frame.Reply)
		}
		frame.Audio = len(audio) > 0

		conn.SetWriteDeadline(time.Now().Add(voiceWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Warn("voice write failed", zap.String("session", sid), zap.Error(err))
			return
		}
		if frame.Audio {
			if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
				h.logger.Warn("voice write failed", zap.String("session", sid), zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) voiceTurn(r *http.Request, sid, transcript string) voiceFrame {
	frame := voiceFrame{SessionID: sid, Transcript: transcript}
	if speech.IsSentinel(transcript) || strings.TrimSpace(transcript) == "" {
		frame.Reply = NotHeardReply
		frame.Fallback = true
		return frame
	}

	ctx, cancel := context.WithTimeout(r.Context(), voiceTurnWindow)
	defer cancel()
	res, err := h.sessions.Reply(ctx, sid, transcript)
	if err != nil {
		h.logger.Warn("voice turn failed", zap.String("session", sid), zap.Error(err))
	}
	if res == nil {
		frame.Reply = NotHeardReply
		frame.Fallback = true
		return frame
	}
	frame.Reply = res.Reply
	frame.Fallback = res.Fallback
	return frame
}
