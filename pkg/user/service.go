package user

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Config selects and configures a user data store.
type Config struct {
	Type       string                 `mapstructure:"type"`
	Properties map[string]interface{} `mapstructure:"properties"`
}

type mongoConfig struct {
	URL        string
	Database   string
	Collection string
}

type restConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type memoryConfig struct {
	Users []MemoryUser
}

// NewRepository builds the store named by uc.Type. An empty type means memory.
func NewRepository(uc Config) (Repository, error) {
	decode := func(target interface{}) error {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           target,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		})
		if err != nil {
			return err
		}
		return errors.Wrapf(dec.Decode(uc.Properties), "bad %s user store properties", uc.Type)
	}

	switch uc.Type {
	case "ldap":
		ur := &userLdapRepository{}
		if err := decode(ur); err != nil {
			return nil, err
		}
		if ur.Address == "" || ur.BaseDN == "" {
			return nil, errors.New("ldap user store requires address and baseDN")
		}
		return ur, nil
	case "mongodb":
		var mc mongoConfig
		if err := decode(&mc); err != nil {
			return nil, err
		}
		if mc.Database == "" {
			mc.Database = "goradius"
		}
		if mc.Collection == "" {
			mc.Collection = "users"
		}
		return newUserMongoRepository(mc.URL, mc.Database, mc.Collection)
	case "rest":
		var rc restConfig
		if err := decode(&rc); err != nil {
			return nil, err
		}
		if rc.Endpoint == "" {
			return nil, errors.New("rest user store requires endpoint")
		}
		return newUserRestRepository(rc.Endpoint, rc.Timeout), nil
	case "", "memory":
		var mc memoryConfig
		if err := decode(&mc); err != nil {
			return nil, err
		}
		return NewInMemoryUserRepository(mc.Users), nil
	default:
		return nil, errors.Errorf("unknown user store type %q", uc.Type)
	}
}
