package emotion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Score is a single named emotion score from the upstream model output.
type Score struct {
	Name  string
	Score float64
}

// Scores holds emotion scores in the order the upstream payload listed them.
// Order matters: ranking ties are broken by upstream position.
type Scores []Score

// UnmarshalJSON decodes a JSON object of name -> score pairs, preserving key
// order. A plain map would lose it.
func (s *Scores) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		// JSON null: treat as no scores
		*s = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("emotion scores: expected JSON object, got %v", tok)
	}

	out := Scores{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("emotion scores: unexpected key token %v", keyTok)
		}

		var score float64
		if err := dec.Decode(&score); err != nil {
			return fmt.Errorf("emotion scores: score for %q: %w", name, err)
		}

		out = append(out, Score{Name: name, Score: score})
	}

	// Consume the closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out
	return nil
}

// MarshalJSON encodes the scores back to a JSON object in original order.
func (s Scores) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, entry := range s {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(entry.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(entry.Score)
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Top returns up to n entries ranked by score descending. The sort is stable,
// so entries with equal scores keep their upstream order.
func (s Scores) Top(n int) Scores {
	ranked := make(Scores, len(s))
	copy(ranked, s)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// FaceData holds facial emotion scores
type FaceData struct {
	Emotions Scores `json:"emotions"`
}

// SpeechData holds speech prosody emotion scores
type SpeechData struct {
	Emotions Scores `json:"emotions"`
}

// LanguageData holds recognized speech text
type LanguageData struct {
	Text string `json:"text"`
}

// Snapshot is one normalized unit of inference output. The timestamp is
// always set; each sub-record is present only when the upstream payload
// carried the corresponding prediction category.
type Snapshot struct {
	Timestamp int64         `json:"timestamp"`
	Face      *FaceData     `json:"face"`
	Speech    *SpeechData   `json:"speech"`
	Language  *LanguageData `json:"language"`
}

// Upstream prediction message shapes. Only messages carrying a predictions
// field are relevant; everything else is ignored.
type predictionMessage struct {
	Predictions *predictions `json:"predictions"`
}

type predictions struct {
	Face     *facePrediction     `json:"face"`
	Prosody  *prosodyPrediction  `json:"prosody"`
	Language *languagePrediction `json:"language"`
}

type facePrediction struct {
	Emotions Scores `json:"emotions"`
}

type prosodyPrediction struct {
	Emotions Scores `json:"emotions"`
}

type languagePrediction struct {
	Text string `json:"text"`
}

// Extract parses an upstream message and classifies it. It returns the
// snapshot and true when the message carries predictions, (nil, false) for
// any other well-formed shape, and an error only when the payload is not
// valid JSON.
func Extract(raw []byte, now time.Time) (*Snapshot, bool, error) {
	var msg predictionMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false, fmt.Errorf("failed to parse upstream message: %w", err)
	}

	if msg.Predictions == nil {
		return nil, false, nil
	}

	snapshot := &Snapshot{Timestamp: now.UnixMilli()}

	if msg.Predictions.Face != nil {
		snapshot.Face = &FaceData{Emotions: msg.Predictions.Face.Emotions}
	}
	if msg.Predictions.Prosody != nil {
		snapshot.Speech = &SpeechData{Emotions: msg.Predictions.Prosody.Emotions}
	}
	if msg.Predictions.Language != nil {
		snapshot.Language = &LanguageData{Text: msg.Predictions.Language.Text}
	}

	return snapshot, true, nil
}
