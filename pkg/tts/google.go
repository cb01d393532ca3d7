// Package tts provides a Google Cloud Text-to-Speech REST client used to
// narrate screening recommendations to children and parents. The client
// wraps the upstream API with a rate limiter, a circuit breaker, and an
// in-process LRU cache of synthesized audio, since recommendation texts
// repeat heavily across sessions.
package tts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrDisabled is returned when the client was built without an API key.
var ErrDisabled = errors.New("tts: no API key configured")

// Config holds the TTS client configuration.
type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	RateLimit    float64
	DefaultLang  string
	DefaultVoice string
	CacheSize    int
}

// Request describes one synthesis request. Empty Language and Voice fall
// back to the configured defaults.
type Request struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Voice    string `json:"voice,omitempty"`
}

// Result is synthesized MP3 audio. Cached reports whether the audio came
// from the in-process cache rather than the upstream API.
type Result struct {
	Audio  []byte
	Cached bool
}

type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string `json:"audioEncoding"`
	} `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// Client is a rate-limited, circuit-broken Google TTS client.
type Client struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cache   *lru.Cache[string, []byte]
	log     *logrus.Logger
}

// NewClient creates a TTS client. A client without an API key is valid
// but every Synthesize call returns ErrDisabled.
func NewClient(config Config, logger *logrus.Logger) (*Client, error) {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	cacheSize := config.CacheSize
	if cacheSize <= 0 {
		cacheSize = 128
	}

	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating audio cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GoogleTTS",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker: breaker,
		cache:   cache,
		log:     logger,
	}, nil
}

// Enabled reports whether the client has an API key and can synthesize.
func (c *Client) Enabled() bool {
	return c.config.APIKey != ""
}

// Synthesize converts text to MP3 audio, serving repeats from the cache.
func (c *Client) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	lang := req.Language
	if lang == "" {
		lang = c.config.DefaultLang
	}
	voice := req.Voice
	if voice == "" {
		voice = c.config.DefaultVoice
	}

	key := cacheKey(req.Text, lang, voice)
	if audio, ok := c.cache.Get(key); ok {
		return &Result{Audio: audio, Cached: true}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("tts rate limit wait: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.synthesize(ctx, req.Text, lang, voice)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("tts service unavailable (circuit breaker open)")
		}
		return nil, fmt.Errorf("tts synthesis failed: %w", err)
	}

	audio := result.([]byte)
	c.cache.Add(key, audio)

	c.log.WithFields(logrus.Fields{
		"language":    lang,
		"voice":       voice,
		"text_length": len(req.Text),
		"audio_bytes": len(audio),
	}).Debug("Synthesized speech")

	return &Result{Audio: audio}, nil
}

func (c *Client) synthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	var body synthesizeRequest
	body.Input.Text = text
	body.Voice.LanguageCode = lang
	body.Voice.Name = voice
	body.AudioConfig.AudioEncoding = "MP3"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/text:synthesize?key=%s", c.config.BaseURL, c.config.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling TTS API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("TTS API returned %d: %s", resp.StatusCode, msg)
	}

	var decoded synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(decoded.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decoding audio content: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("TTS API returned empty audio")
	}

	return audio, nil
}

func cacheKey(text, lang, voice string) string {
	hash := sha256.Sum256([]byte(lang + ":" + voice + ":" + text))
	return fmt.Sprintf("%x", hash[:16])
}
