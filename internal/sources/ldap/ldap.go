// Package ldap provides a source that pulls users and groups from an LDAP
// directory. Users are organizationalPerson entries keyed by uid; groups are
// groupOfNames entries whose members reference users by DN.
package ldap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	ldapv3 "github.com/go-ldap/ldap/v3"

	"github.com/agentstation/lifecycle/internal/config"
	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/sources"
)

const (
	userFilter  = "(objectClass=organizationalPerson)"
	groupFilter = "(objectClass=groupOfNames)"
)

var (
	userAttributes  = []string{"uid", "givenName", "sn", "mail", "nsAccountLock"}
	groupAttributes = []string{"cn", "description", "mail", "member"}
)

// Source pulls the directory's users and groups into a snapshot.
type Source struct {
	url           string
	baseDN        string
	bindDN        string
	bindPassword  string
	anonymousBind bool
	startTLS      bool
}

// New validates the config block and builds the source. Connection problems
// surface at fetch time, not here; credentials problems in the config do.
func New(m config.Module) (*Source, error) {
	s := &Source{}
	var err error

	if s.url, err = m.String("url"); err != nil {
		return nil, err
	}
	if s.url == "" {
		return nil, errors.NewConfigError("source", "ldap source requires a url", nil)
	}
	if s.baseDN, err = m.String("base_dn"); err != nil {
		return nil, err
	}
	if s.baseDN == "" {
		return nil, errors.NewConfigError("source", "ldap source requires a base_dn", nil)
	}
	if s.bindDN, err = m.String("bind_dn"); err != nil {
		return nil, err
	}
	if s.bindPassword, err = m.String("bind_password"); err != nil {
		return nil, err
	}
	if s.anonymousBind, err = m.Bool("anonymous_bind", false); err != nil {
		return nil, err
	}
	if s.startTLS, err = m.Bool("start_tls", false); err != nil {
		return nil, err
	}

	if !s.anonymousBind && (s.bindDN == "" || s.bindPassword == "") {
		return nil, errors.NewConfigError("source", "specify bind_dn and bind_password, or set anonymous_bind", nil)
	}

	return s, nil
}

// ID returns the module identifier.
func (s *Source) ID() sources.ID {
	return sources.LDAPID
}

// Fetch connects, searches users and groups, and builds a snapshot.
func (s *Source) Fetch(ctx context.Context) (*inventory.Snapshot, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	users, err := s.fetchUsers(conn)
	if err != nil {
		return nil, err
	}
	groups, err := s.fetchGroups(conn)
	if err != nil {
		return nil, err
	}

	return inventory.NewSnapshot(users, groups)
}

func (s *Source) connect(ctx context.Context) (*ldapv3.Conn, error) {
	conn, err := ldapv3.DialURL(s.url)
	if err != nil {
		return nil, errors.NewSourceError(s.ID().String(), "connecting to "+s.url, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}

	if s.startTLS {
		if err := conn.StartTLS(&tls.Config{ServerName: serverName(s.url)}); err != nil {
			conn.Close()
			return nil, errors.NewSourceError(s.ID().String(), "starting TLS", err)
		}
	}

	if s.anonymousBind {
		err = conn.UnauthenticatedBind("")
	} else {
		err = conn.Bind(s.bindDN, s.bindPassword)
	}
	if err != nil {
		conn.Close()
		return nil, errors.NewSourceError(s.ID().String(), "bind failed", err)
	}

	return conn, nil
}

func (s *Source) fetchUsers(conn *ldapv3.Conn) ([]inventory.User, error) {
	result, err := conn.Search(ldapv3.NewSearchRequest(
		s.baseDN, ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
		userFilter, userAttributes, nil,
	))
	if err != nil {
		return nil, errors.NewSourceError(s.ID().String(), "searching users", err)
	}

	var users []inventory.User
	for _, entry := range result.Entries {
		uid := entry.GetAttributeValue("uid")
		if uid == "" {
			continue
		}
		users = append(users, inventory.User{
			Username: uid,
			Forename: entry.GetAttributeValue("givenName"),
			Surname:  entry.GetAttributeValue("sn"),
			Emails:   entry.GetAttributeValues("mail"),
			Enabled:  !accountLocked(entry.GetAttributeValue("nsAccountLock")),
		})
	}
	return users, nil
}

func (s *Source) fetchGroups(conn *ldapv3.Conn) ([]inventory.Group, error) {
	result, err := conn.Search(ldapv3.NewSearchRequest(
		s.baseDN, ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
		groupFilter, groupAttributes, nil,
	))
	if err != nil {
		return nil, errors.NewSourceError(s.ID().String(), "searching groups", err)
	}

	var groups []inventory.Group
	for _, entry := range result.Entries {
		name := entry.GetAttributeValue("cn")
		if name == "" {
			continue
		}
		group := inventory.Group{
			Name:        name,
			Description: entry.GetAttributeValue("description"),
			Emails:      entry.GetAttributeValues("mail"),
		}
		for _, memberDN := range entry.GetAttributeValues("member") {
			if member := MemberUID(memberDN); member != "" {
				group.Members = append(group.Members, member)
			}
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// MemberUID extracts the member identifier from a groupOfNames member DN by
// taking the value of the first RDN, e.g. "uid=jsmith,ou=people,dc=example"
// yields "jsmith".
func MemberUID(dn string) string {
	first, _, _ := strings.Cut(dn, ",")
	_, value, found := strings.Cut(first, "=")
	if !found {
		return ""
	}
	return strings.TrimSpace(value)
}

// accountLocked interprets the 389-ds nsAccountLock operational attribute.
func accountLocked(value string) bool {
	return strings.EqualFold(value, "TRUE")
}

func serverName(url string) string {
	rest := url
	if _, after, found := strings.Cut(url, "://"); found {
		rest = after
	}
	host, _, _ := strings.Cut(rest, ":")
	return host
}
