// Package demo ships two job classes that exercise the engine end to end:
// Echo logs its definition, Fetch downloads the URL in its description.
package demo

import (
	"context"
	"net/url"
	"strconv"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/jobkit"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/registry"
)

const (
	EchoJobID  = 100001
	FetchJobID = 100002

	EchoClass  = "demo.Echo"
	FetchClass = "demo.Fetch"
)

// Module declares the demo classes and binds their default ids. Manifests
// can bind more ids to either class.
func Module(fetcher *jobkit.Fetcher) registry.Module {
	return registry.Module{
		Package: "demo",
		Classes: []job.Implementation{
			{
				Class:       EchoClass,
				Name:        "Echo",
				Description: "Logs its own definition",
				New:         newEcho,
			},
			{
				Class:       FetchClass,
				Name:        "Fetch",
				Description: "https://example.com/",
				New: func(rc *job.RunContext) (job.Job, error) {
					return newFetch(rc, fetcher)
				},
			},
		},
		Bindings: map[int]string{
			EchoJobID:  EchoClass,
			FetchJobID: FetchClass,
		},
	}
}

func newEcho(rc *job.RunContext) (job.Job, error) {
	return job.Func(func(ctx context.Context) error {
		rc.Logger.Infow("Echo",
			logger.FieldJobName, rc.Definition.JobName,
			logger.FieldSchedule, rc.Definition.CronSpec(),
			"description", rc.Definition.Description)
		return nil
	}), nil
}

// fetch downloads the URL held in the definition's description and caches
// it for the day under the job id.
type fetch struct {
	rc      *job.RunContext
	url     string
	fetcher *jobkit.Fetcher
}

func newFetch(rc *job.RunContext, fetcher *jobkit.Fetcher) (job.Job, error) {
	if fetcher == nil {
		return nil, errors.New("demo.Fetch needs a fetcher")
	}
	u, err := url.Parse(rc.Definition.Description)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.NewInvalidRequestError("job %d: description %q is not a URL",
			rc.JobID, rc.Definition.Description)
	}
	return &fetch{rc: rc, url: u.String(), fetcher: fetcher.WithLogger(rc.Logger)}, nil
}

func (f *fetch) Run(ctx context.Context) error {
	body, err := f.fetcher.Bytes(ctx, jobkit.Request{
		URL:      f.url,
		DumpName: dumpName(f.rc.JobID),
	})
	if err != nil {
		return errors.Wrapf(err, "fetch %s", f.url)
	}
	f.rc.Logger.Infow("Fetched",
		logger.FieldURL, f.url,
		logger.FieldCount, len(body))
	return nil
}

func dumpName(jobID int) string {
	return "job-" + strconv.Itoa(jobID) + ".body"
}
