package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aria-voice/aria/internal/audio"
	"github.com/aria-voice/aria/internal/cues"
)

// handleCueAsset serves a cue tone as a WAV file. The page fetches each
// cue once and plays it from memory on dispatch.
func (s *Server) handleCueAsset(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	name = strings.TrimSuffix(name, ".wav")
	c := cues.Cue(name)
	if !c.Valid() {
		respondError(w, http.StatusNotFound, "unknown_cue", "no such cue")
		return
	}

	pcm := cues.TonePCM16(c, cues.DefaultSampleRate)
	wav, err := audio.EncodeWAVPCM16LE(pcm, cues.DefaultSampleRate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
