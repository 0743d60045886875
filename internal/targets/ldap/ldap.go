// Package ldap provides a target adapter that pushes users and role
// memberships into an LDAP directory. Users live under a configurable
// account subtree, enablement is expressed through the 389-ds nsAccountLock
// attribute, and roles are groupOfNames entries whose member values are user
// DNs.
package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	ldapv3 "github.com/go-ldap/ldap/v3"

	"github.com/agentstation/lifecycle/internal/config"
	ldapsource "github.com/agentstation/lifecycle/internal/sources/ldap"
	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/plan"
	"github.com/agentstation/lifecycle/pkg/targets"
)

const (
	defaultUserPath  = "cn=users,cn=accounts"
	defaultGroupPath = "cn=groups,cn=accounts"
)

// Target synchronizes users and role memberships into an LDAP directory.
type Target struct {
	url           string
	baseDN        string
	bindDN        string
	bindPassword  string
	anonymousBind bool
	startTLS      bool

	userPath  string
	groupPath string
}

// New validates the config block and builds the target.
func New(m config.Module) (*Target, error) {
	t := &Target{}
	var err error

	if t.url, err = m.String("url"); err != nil {
		return nil, err
	}
	if t.url == "" {
		return nil, errors.NewConfigError("targets", "ldap target requires a url", nil)
	}
	if t.baseDN, err = m.String("base_dn"); err != nil {
		return nil, err
	}
	if t.baseDN == "" {
		return nil, errors.NewConfigError("targets", "ldap target requires a base_dn", nil)
	}
	if t.bindDN, err = m.String("bind_dn"); err != nil {
		return nil, err
	}
	if t.bindPassword, err = m.String("bind_password"); err != nil {
		return nil, err
	}
	if t.anonymousBind, err = m.Bool("anonymous_bind", false); err != nil {
		return nil, err
	}
	if t.startTLS, err = m.Bool("start_tls", false); err != nil {
		return nil, err
	}
	if !t.anonymousBind && (t.bindDN == "" || t.bindPassword == "") {
		return nil, errors.NewConfigError("targets", "specify bind_dn and bind_password, or set anonymous_bind", nil)
	}

	if t.userPath, err = m.String("new_user_group_path"); err != nil {
		return nil, err
	}
	if t.userPath == "" {
		t.userPath = defaultUserPath
	}
	if t.groupPath, err = m.String("group_path"); err != nil {
		return nil, err
	}
	if t.groupPath == "" {
		t.groupPath = defaultGroupPath
	}

	return t, nil
}

// ID returns the module identifier.
func (t *Target) ID() targets.ID {
	return targets.LDAPID
}

// Capabilities declares what this adapter can do.
func (t *Target) Capabilities() targets.Capabilities {
	return targets.NewCapabilities(
		targets.CapabilityCreate,
		targets.CapabilityUpdate,
		targets.CapabilityDisable,
		targets.CapabilityRoleManagement,
		targets.CapabilityEmail,
	)
}

// State fetches the directory's users and groupOfNames role memberships.
func (t *Target) State(ctx context.Context) (*targets.State, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	users, err := t.searchUsers(conn)
	if err != nil {
		return nil, err
	}
	roles, err := t.searchRoles(conn)
	if err != nil {
		return nil, err
	}
	return targets.NewState(users, roles), nil
}

// Apply executes one operation. Every operation opens its own connection;
// runs are batch-sized and the directory keeps binds cheap.
func (t *Target) Apply(ctx context.Context, op plan.Operation) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	switch op.Kind {
	case plan.KindCreateUser:
		err = t.addUser(conn, op.User)
	case plan.KindUpdateUserAttributes:
		err = t.modifyUser(conn, op)
	case plan.KindEnableUser:
		err = t.setAccountLock(conn, op.Key, false)
	case plan.KindDisableUser:
		err = t.setAccountLock(conn, op.Key, true)
	case plan.KindAddRoleMember:
		err = t.changeRoleMember(conn, op.Role, op.Key, true)
	case plan.KindRemoveRoleMember:
		err = t.changeRoleMember(conn, op.Role, op.Key, false)
	default:
		return errors.NewOperationError(t.ID().String(), op.String(), errors.ErrUnsupported)
	}

	if err != nil {
		return errors.NewOperationError(t.ID().String(), op.String(), err)
	}
	return nil
}

func (t *Target) connect(ctx context.Context) (*ldapv3.Conn, error) {
	conn, err := ldapv3.DialURL(t.url)
	if err != nil {
		return nil, errors.NewTargetError(t.ID().String(), "connecting to "+t.url, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}

	if t.startTLS {
		if err := conn.StartTLS(&tls.Config{}); err != nil {
			conn.Close()
			return nil, errors.NewTargetError(t.ID().String(), "starting TLS", err)
		}
	}

	if t.anonymousBind {
		err = conn.UnauthenticatedBind("")
	} else {
		err = conn.Bind(t.bindDN, t.bindPassword)
	}
	if err != nil {
		conn.Close()
		return nil, errors.NewTargetError(t.ID().String(), "bind failed", err)
	}
	return conn, nil
}

func (t *Target) searchUsers(conn *ldapv3.Conn) ([]inventory.User, error) {
	result, err := conn.Search(ldapv3.NewSearchRequest(
		t.baseDN, ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
		"(objectClass=organizationalPerson)",
		[]string{"uid", "givenName", "sn", "displayName", "mail", "nsAccountLock"}, nil,
	))
	if err != nil {
		return nil, errors.NewTargetError(t.ID().String(), "searching users", err)
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
			FullName: entry.GetAttributeValue("displayName"),
			Emails:   entry.GetAttributeValues("mail"),
			Enabled:  !strings.EqualFold(entry.GetAttributeValue("nsAccountLock"), "TRUE"),
		})
	}
	return users, nil
}

func (t *Target) searchRoles(conn *ldapv3.Conn) ([]inventory.Role, error) {
	result, err := conn.Search(ldapv3.NewSearchRequest(
		t.baseDN, ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
		"(objectClass=groupOfNames)",
		[]string{"cn", "member"}, nil,
	))
	if err != nil {
		return nil, errors.NewTargetError(t.ID().String(), "searching groups", err)
	}

	var roles []inventory.Role
	for _, entry := range result.Entries {
		name := entry.GetAttributeValue("cn")
		if name == "" {
			continue
		}
		role := inventory.Role{Name: name}
		for _, memberDN := range entry.GetAttributeValues("member") {
			if member := ldapsource.MemberUID(memberDN); member != "" {
				role.Members = append(role.Members, member)
			}
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// userDN is the DN a new user entry is created under.
func (t *Target) userDN(username string) string {
	return fmt.Sprintf("uid=%s,%s,%s", username, t.userPath, t.baseDN)
}

// roleDN is the DN a new role entry is created under.
func (t *Target) roleDN(role string) string {
	return fmt.Sprintf("cn=%s,%s,%s", role, t.groupPath, t.baseDN)
}

func (t *Target) addUser(conn *ldapv3.Conn, user *inventory.User) error {
	lock := "FALSE"
	if !user.Enabled {
		lock = "TRUE"
	}

	request := ldapv3.NewAddRequest(t.userDN(user.Username), nil)
	request.Attribute("objectClass", []string{"top", "person", "organizationalPerson", "inetOrgPerson"})
	request.Attribute("uid", []string{user.Username})
	request.Attribute("cn", []string{nonEmpty(user.FullName, user.Username)})
	request.Attribute("sn", []string{nonEmpty(user.Surname, user.Username)})
	if user.Forename != "" {
		request.Attribute("givenName", []string{user.Forename})
	}
	if user.FullName != "" {
		request.Attribute("displayName", []string{user.FullName})
	}
	if emails := user.SortedEmails(); len(emails) > 0 {
		request.Attribute("mail", emails)
	}
	request.Attribute("nsAccountLock", []string{lock})

	return conn.Add(request)
}

func (t *Target) modifyUser(conn *ldapv3.Conn, op plan.Operation) error {
	dn, err := t.findUserDN(conn, op.Key)
	if err != nil {
		return err
	}

	request := ldapv3.NewModifyRequest(dn, nil)
	for _, change := range op.Changes {
		switch change.Path {
		case "forename":
			request.Replace("givenName", []string{change.New})
		case "surname":
			request.Replace("sn", []string{change.New})
		case "full_name":
			request.Replace("displayName", []string{change.New})
		case "emails":
			request.Replace("mail", op.User.SortedEmails())
		}
	}
	return conn.Modify(request)
}

func (t *Target) setAccountLock(conn *ldapv3.Conn, key string, locked bool) error {
	dn, err := t.findUserDN(conn, key)
	if err != nil {
		return err
	}

	value := "FALSE"
	if locked {
		value = "TRUE"
	}
	request := ldapv3.NewModifyRequest(dn, nil)
	request.Replace("nsAccountLock", []string{value})
	return conn.Modify(request)
}

func (t *Target) changeRoleMember(conn *ldapv3.Conn, role, key string, add bool) error {
	userDN, err := t.findUserDN(conn, key)
	if err != nil {
		return err
	}

	roleDN, err := t.findRoleDN(conn, role)
	if err != nil {
		if !add || !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		// First member of a new role: groupOfNames requires at least one
		// member, so the entry is created with the member in place.
		request := ldapv3.NewAddRequest(t.roleDN(role), nil)
		request.Attribute("objectClass", []string{"top", "groupOfNames"})
		request.Attribute("cn", []string{role})
		request.Attribute("member", []string{userDN})
		return conn.Add(request)
	}

	request := ldapv3.NewModifyRequest(roleDN, nil)
	if add {
		request.Add("member", []string{userDN})
	} else {
		request.Delete("member", []string{userDN})
	}
	return conn.Modify(request)
}

// findUserDN resolves an identity key to the entry DN via a uid search. The
// uid must be unique; anything else is directory corruption this tool cannot
// untangle.
func (t *Target) findUserDN(conn *ldapv3.Conn, uid string) (string, error) {
	result, err := conn.Search(ldapv3.NewSearchRequest(
		t.baseDN, ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(uid=%s)", ldapv3.EscapeFilter(uid)),
		[]string{"uid"}, nil,
	))
	if err != nil {
		return "", err
	}
	switch len(result.Entries) {
	case 0:
		return "", fmt.Errorf("uid %s: %w", uid, errors.ErrNotFound)
	case 1:
		return result.Entries[0].DN, nil
	default:
		return "", errors.NewDataError("user", uid, "uid is not unique in the directory")
	}
}

func (t *Target) findRoleDN(conn *ldapv3.Conn, role string) (string, error) {
	result, err := conn.Search(ldapv3.NewSearchRequest(
		t.baseDN, ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(&(objectClass=groupOfNames)(cn=%s))", ldapv3.EscapeFilter(role)),
		[]string{"cn"}, nil,
	))
	if err != nil {
		return "", err
	}
	if len(result.Entries) == 0 {
		return "", fmt.Errorf("role %s: %w", role, errors.ErrNotFound)
	}
	return result.Entries[0].DN, nil
}

func nonEmpty(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
