package user

import (
	"context"
	"time"

	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("user store unavailable")

type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// breakerRepository trips after Threshold consecutive backend errors.
// Missing users and wrong passwords are answers, not failures.
type breakerRepository struct {
	repo Repository
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps repo with a circuit breaker. A zero threshold returns repo as is.
func WithBreaker(name string, repo Repository, bc BreakerConfig) Repository {
	if bc.Threshold <= 0 {
		return repo
	}
	if bc.Timeout <= 0 {
		bc.Timeout = 30 * time.Second
	}
	threshold := uint32(bc.Threshold)
	logger := log.WithField("breaker", name)
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUserNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker state change %s -> %s", from, to)
			metrics.Get().BreakerTransition(name, from.String(), to.String())
		},
	}
	return &breakerRepository{repo: repo, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (br *breakerRepository) execute(fn func() (interface{}, error)) (interface{}, error) {
	res, err := br.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	return res, err
}

type getUserResult struct {
	user   User
	exists bool
}

func (br *breakerRepository) GetUser(ctx context.Context, id string) (User, bool, error) {
	res, err := br.execute(func() (interface{}, error) {
		u, ok, err := br.repo.GetUser(ctx, id)
		return getUserResult{u, ok}, err
	})
	if err != nil {
		return User{}, false, err
	}
	r := res.(getUserResult)
	return r.user, r.exists, nil
}

func (br *breakerRepository) ValidatePassword(ctx context.Context, id, password string) (bool, error) {
	res, err := br.execute(func() (interface{}, error) {
		return br.repo.ValidatePassword(ctx, id, password)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (br *breakerRepository) CreateUser(ctx context.Context, user User) (User, error) {
	res, err := br.execute(func() (interface{}, error) {
		return br.repo.CreateUser(ctx, user)
	})
	if err != nil {
		return user, err
	}
	return res.(User), nil
}

func (br *breakerRepository) SetPassword(ctx context.Context, id, password string) error {
	_, err := br.execute(func() (interface{}, error) {
		return nil, br.repo.SetPassword(ctx, id, password)
	})
	return err
}
