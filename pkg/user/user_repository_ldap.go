package user

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/maximthomas/goradius/pkg/log"
	"github.com/pkg/errors"
)

const ldapSearchTimeout = 100

type userLdapRepository struct {
	Address       string
	BindDN        string
	Password      string
	BaseDN        string
	UserFilter    string
	ObjectClasses []string
	// Attributes maps LDAP attribute names to user property names,
	// e.g. "radiusReplyMessage" -> "reply:Reply-Message".
	Attributes map[string]string
}

func (ur *userLdapRepository) getConnection() (*ldap.Conn, error) {
	conn, err := ldap.Dial("tcp", ur.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "ldap dial %s", ur.Address)
	}
	err = conn.Bind(ur.BindDN, ur.Password)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ldap service bind")
	}
	return conn, nil
}

func (ur *userLdapRepository) filter(id string) string {
	f := ur.UserFilter
	if f == "" {
		f = "(uid=%s)"
	}
	return fmt.Sprintf(f, ldap.EscapeFilter(id))
}

// getLdapEntry returns nil without error when no entry matches.
func (ur *userLdapRepository) getLdapEntry(id string, conn *ldap.Conn) (*ldap.Entry, error) {
	fields := []string{"dn", "uid"}
	for attr := range ur.Attributes {
		fields = append(fields, attr)
	}
	result, err := conn.Search(ldap.NewSearchRequest(
		ur.BaseDN,
		ldap.ScopeSingleLevel,
		ldap.NeverDerefAliases,
		0,
		ldapSearchTimeout,
		false,
		ur.filter(id),
		fields,
		nil,
	))
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "ldap search")
	}

	switch len(result.Entries) {
	case 0:
		return nil, nil
	case 1:
		return result.Entries[0], nil
	default:
		return nil, errors.Errorf("found %d entries for %s", len(result.Entries), id)
	}
}

func (ur *userLdapRepository) GetUser(_ context.Context, id string) (user User, exists bool, err error) {
	conn, err := ur.getConnection()
	if err != nil {
		return user, false, err
	}
	defer conn.Close()

	entry, err := ur.getLdapEntry(id, conn)
	if err != nil || entry == nil {
		return user, false, err
	}

	user = User{ID: entry.GetAttributeValue("uid")}
	if user.ID == "" {
		user.ID = id
	}
	for attr, prop := range ur.Attributes {
		if v := entry.GetAttributeValue(attr); v != "" {
			user.SetProperty(prop, v)
		}
	}
	return user, true, nil
}

func (ur *userLdapRepository) ValidatePassword(_ context.Context, id, password string) (bool, error) {
	if password == "" {
		return false, nil
	}
	conn, err := ur.getConnection()
	if err != nil {
		return false, err
	}
	defer conn.Close()
	entry, err := ur.getLdapEntry(id, conn)
	if err != nil || entry == nil {
		return false, err
	}

	if err := conn.Bind(entry.DN, password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return false, nil
		}
		return false, errors.Wrap(err, "ldap user bind")
	}
	return true, nil
}

func (ur *userLdapRepository) CreateUser(_ context.Context, user User) (User, error) {
	conn, err := ur.getConnection()
	if err != nil {
		return user, err
	}
	defer conn.Close()
	dn := fmt.Sprintf("uid=%v,%s", user.ID, ur.BaseDN)
	addRequest := ldap.NewAddRequest(dn, nil)
	addRequest.Attribute("objectClass", ur.ObjectClasses)
	addRequest.Attribute("sn", []string{user.ID})
	addRequest.Attribute("cn", []string{user.ID})
	for attr, prop := range ur.Attributes {
		if v, ok := user.Properties[prop]; ok {
			addRequest.Attribute(attr, []string{v})
		}
	}
	if err = conn.Add(addRequest); err != nil {
		return user, errors.Wrapf(err, "ldap add %s", dn)
	}
	log.WithField("module", "user").Infof("created ldap user %s", dn)
	return user, nil
}

func (ur *userLdapRepository) SetPassword(_ context.Context, id, password string) error {
	conn, err := ur.getConnection()
	if err != nil {
		return err
	}
	defer conn.Close()
	entry, err := ur.getLdapEntry(id, conn)
	if err != nil {
		return err
	}
	if entry == nil {
		return errors.Wrap(ErrUserNotFound, id)
	}

	passwordModifyRequest := ldap.NewPasswordModifyRequest(entry.DN, "", password)
	_, err = conn.PasswordModify(passwordModifyRequest)
	return errors.Wrap(err, "password could not be changed")
}
