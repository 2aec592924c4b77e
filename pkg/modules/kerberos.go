package modules

import (
	"context"
	"strings"

	"github.com/jcmturner/gokrb5/v8/client"
	krbconfig "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/krberror"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/pkg/errors"
)

// Kerberos authenticates User-Name/User-Password with an AS exchange against the realm KDC.
type Kerberos struct {
	BaseModule
	Realm        string
	Krb5Conf     string
	Krb5ConfData string

	conf  *krbconfig.Config
	login func(username, realm, password string) error
}

func init() {
	RegisterModule("kerberos", newKerberos)
}

func newKerberos(base BaseModule) (Module, error) {
	k := &Kerberos{}
	if err := base.decode(k); err != nil {
		return nil, err
	}
	k.BaseModule = base
	if k.Krb5Conf == "" && k.Krb5ConfData == "" {
		k.Krb5Conf = "/etc/krb5.conf"
	}
	return k, nil
}

func (k *Kerberos) Instantiate(_ context.Context) error {
	var err error
	if k.Krb5ConfData != "" {
		k.conf, err = krbconfig.NewFromString(k.Krb5ConfData)
	} else {
		k.conf, err = krbconfig.Load(k.Krb5Conf)
	}
	if err != nil {
		return errors.Wrapf(err, "module %s: cannot load krb5 config", k.Name)
	}
	if k.Realm == "" {
		k.Realm = k.conf.LibDefaults.DefaultRealm
	}
	if k.Realm == "" {
		return errors.Errorf("module %s: realm is not set", k.Name)
	}
	if k.login == nil {
		k.login = k.asLogin
	}
	return nil
}

func (k *Kerberos) asLogin(username, realm, password string) error {
	cl := client.NewWithPassword(username, realm, password, k.conf, client.DisablePAFXFAST(true))
	defer cl.Destroy()
	return cl.Login()
}

// principal splits user@REALM; names without a realm use the configured one.
func (k *Kerberos) principal(name string) (string, string) {
	if i := strings.LastIndex(name, "@"); i > 0 && i < len(name)-1 {
		return name[:i], strings.ToUpper(name[i+1:])
	}
	return name, k.Realm
}

func (k *Kerberos) Authenticate(r *request.Request) (rcode.Code, error) {
	if k.login == nil {
		return rcode.Fail, errors.Errorf("module %s is not instantiated", k.Name)
	}
	password, ok := r.Packet.Find(attrUserPassword)
	if !ok || password.Value == "" || r.UserName() == "" {
		return rcode.Invalid, nil
	}
	username, realm := k.principal(r.UserName())
	err := k.login(username, realm, password.Value)
	if err == nil {
		return rcode.OK, nil
	}
	var kerr krberror.Krberror
	if errors.As(err, &kerr) && kerr.RootCause == krberror.NetworkingError {
		return rcode.Fail, errors.Wrap(err, "kdc is unreachable")
	}
	r.Logger().WithField("module", k.Name).Infof("kerberos login failed for %s@%s: %v", username, realm, err)
	if strings.Contains(err.Error(), "KDC_ERR_C_PRINCIPAL_UNKNOWN") {
		return rcode.NotFound, nil
	}
	return rcode.Reject, nil
}
