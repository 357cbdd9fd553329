package deepgram

import (
	"cmp"
	"encoding/json"
	"strings"
	"time"

	"github.com/MrWong99/voxfill/pkg/types"
)

// message is the subset of Deepgram's server messages voxfill reads.
type message struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Word           string  `json:"word"`
		PunctuatedWord string  `json:"punctuated_word"`
		Start          float64 `json:"start"`
		End            float64 `json:"end"`
		Confidence     float64 `json:"confidence"`
	} `json:"words"`
}

// decode parses a server message. Only Results and UtteranceEnd are
// returned; everything else (Metadata, SpeechStarted, garbage) is dropped.
func decode(data []byte) (message, bool) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return message{}, false
	}
	switch m.Type {
	case "Results":
		return m, len(m.Channel.Alternatives) > 0
	case "UtteranceEnd":
		return m, true
	}
	return message{}, false
}

func (m message) best() alternative { return m.Channel.Alternatives[0] }

// interim reports whether m is a non-final result worth previewing.
func (m message) interim() bool {
	return m.Type == "Results" && !m.IsFinal && strings.TrimSpace(m.best().Transcript) != ""
}

// utterance collects finalised segments until Deepgram ends the utterance.
type utterance struct {
	segments []types.Segment
	words    []types.WordDetail
}

// apply feeds one message. It returns the completed utterance when m closes
// one that has text.
func (u *utterance) apply(m message) (types.Transcript, bool) {
	if m.Type == "UtteranceEnd" {
		return u.flush()
	}
	if !m.IsFinal {
		return types.Transcript{}, false
	}
	alt := m.best()
	if text := strings.TrimSpace(alt.Transcript); text != "" {
		u.segments = append(u.segments, types.Segment{Text: text, Confidence: alt.Confidence})
		for _, w := range alt.Words {
			u.words = append(u.words, types.WordDetail{
				Word:       cmp.Or(w.PunctuatedWord, w.Word),
				Start:      seconds(w.Start),
				End:        seconds(w.End),
				Confidence: w.Confidence,
			})
		}
	}
	if m.SpeechFinal {
		return u.flush()
	}
	return types.Transcript{}, false
}

// flush returns the collected utterance and resets u. The overall
// confidence is the lowest segment confidence.
func (u *utterance) flush() (types.Transcript, bool) {
	if len(u.segments) == 0 {
		return types.Transcript{}, false
	}
	texts := make([]string, len(u.segments))
	conf := u.segments[0].Confidence
	for i, s := range u.segments {
		texts[i] = s.Text
		conf = min(conf, s.Confidence)
	}
	t := types.Transcript{
		Text:       strings.Join(texts, " "),
		IsFinal:    true,
		Confidence: conf,
		Segments:   u.segments,
		Words:      u.words,
	}
	u.segments, u.words = nil, nil
	return t, true
}

// preview is the pending utterance followed by the interim text of m.
func (u *utterance) preview(m message) types.Transcript {
	alt := m.best()
	parts := make([]string, 0, len(u.segments)+1)
	for _, s := range u.segments {
		parts = append(parts, s.Text)
	}
	parts = append(parts, strings.TrimSpace(alt.Transcript))
	return types.Transcript{Text: strings.Join(parts, " "), Confidence: alt.Confidence}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
