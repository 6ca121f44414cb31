// Package submitter looks up the originating lab, submitting lab and authors of a record from the upstream
// acknowledgement files.
package submitter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vineyard-genomics/harvester/internal/harvester/configuration"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

type acknowledgement struct {
	OriginatingLab *string `json:"covv_orig_lab"`
	SubmittingLab  *string `json:"covv_subm_lab"`
	Authors        *string `json:"covv_authors"`
}

// HttpFetcher downloads <base>/<aa>/<bb>/<id>.json where aa is the fourth- and third-to-last digits of the accession
// number and bb its last two digits.
type HttpFetcher struct {
	baseUrl  string
	client   *http.Client
	attempts uint
	delay    time.Duration
}

func NewHttpFetcher(config configuration.SubmitterConfig) *HttpFetcher {
	attempts := config.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return &HttpFetcher{
		baseUrl:  strings.TrimSuffix(config.BaseUrl, "/"),
		client:   &http.Client{Timeout: config.Timeout},
		attempts: attempts,
		delay:    500 * time.Millisecond,
	}
}

// FetchSubmitter returns nil when the information is unavailable for any reason.
func (f *HttpFetcher) FetchSubmitter(ctx context.Context, id string) *model.SubmitterInformation {
	info, err := f.Fetch(ctx, id)
	if err != nil {
		log.WithField("id", id).Debugf("submitter information unavailable: %v", err)
		return nil
	}
	return info
}

// Fetch downloads and decodes the acknowledgement file of id, retrying transport failures and 5xx responses.
func (f *HttpFetcher) Fetch(ctx context.Context, id string) (*model.SubmitterInformation, error) {
	url, err := f.url(id)
	if err != nil {
		return nil, err
	}
	var body []byte
	err = retry.Do(
		func() error {
			body, err = f.get(ctx, url)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var status *statusError
			return !errors.As(err, &status) || status.code >= 500
		}),
	)
	if err != nil {
		return nil, err
	}
	var ack acknowledgement
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &ack); err != nil {
		return nil, errors.Wrapf(err, "invalid acknowledgement for %s", id)
	}
	return &model.SubmitterInformation{
		OriginatingLab: notAvailable(ack.OriginatingLab),
		SubmittingLab:  notAvailable(ack.SubmittingLab),
		Authors:        notAvailable(ack.Authors),
	}, nil
}

func (f *HttpFetcher) url(id string) (string, error) {
	parts := strings.Split(id, "_")
	if len(parts) < 3 || len(parts[2]) < 4 {
		return "", errors.Errorf("cannot derive accession number from %q", id)
	}
	accession := parts[2]
	l := len(accession)
	return fmt.Sprintf("%s/%s/%s/%s.json", f.baseUrl, accession[l-4:l-2], accession[l-2:], id), nil
}

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s returned status %d", e.url, e.code)
}

func (f *HttpFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{url: url, code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	return body, errors.WithStack(err)
}

// notAvailable maps the upstream placeholder "na" to absent.
func notAvailable(s *string) *string {
	if s == nil || strings.EqualFold(strings.TrimSpace(*s), "na") {
		return nil
	}
	return s
}

// NoopFetcher never knows any submitter information.
type NoopFetcher struct{}

func (NoopFetcher) FetchSubmitter(context.Context, string) *model.SubmitterInformation {
	return nil
}
