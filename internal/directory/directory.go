package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/opsmenu/opsmenu/internal/model"
)

// Resolver looks up a username in the directory service. Implementations
// return model.ErrDirectoryUnavailable when the service cannot be reached
// and model.ErrUserNotFound when the identity does not exist.
type Resolver interface {
	Resolve(ctx context.Context, username string) (model.UserIdentity, error)
}

// LDAPResolver queries an LDAP/AD server for a user's group memberships
// and mail address. One connection per lookup, the session Cache in front
// keeps the volume down.
type LDAPResolver struct {
	cfg model.Directory
}

func NewLDAPResolver(cfg model.Directory) *LDAPResolver {
	return &LDAPResolver{cfg: cfg}
}

func (r *LDAPResolver) Resolve(ctx context.Context, username string) (model.UserIdentity, error) {
	conn, err := ldap.DialURL(r.cfg.Address)
	if err != nil {
		return model.UserIdentity{}, fmt.Errorf("dialing %s: %w: %w", r.cfg.Address, model.ErrDirectoryUnavailable, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if r.cfg.BindDN != nil {
		var password string
		if r.cfg.BindPassword != nil {
			password = *r.cfg.BindPassword
		}
		if err := conn.Bind(r.bindUser(), password); err != nil {
			return model.UserIdentity{}, fmt.Errorf("binding as %s: %w: %w", *r.cfg.BindDN, model.ErrDirectoryUnavailable, err)
		}
	}

	filter := fmt.Sprintf("(sAMAccountName=%s)", ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		r.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"sAMAccountName", "memberOf", "mail"},
		nil,
	)

	res, err := conn.SearchWithPaging(req, 100)
	if err != nil {
		return model.UserIdentity{}, fmt.Errorf("searching %s: %w: %w", r.cfg.BaseDN, model.ErrDirectoryUnavailable, err)
	}
	if len(res.Entries) == 0 {
		return model.UserIdentity{}, fmt.Errorf("%q: %w", username, model.ErrUserNotFound)
	}
	if len(res.Entries) > 1 {
		slog.WarnContext(ctx, "directory returned multiple entries, using first", "username", username, "entries", len(res.Entries))
	}

	entry := res.Entries[0]
	identity := model.UserIdentity{
		Username: username,
		Mail:     entry.GetAttributeValue("mail"),
	}
	for _, dn := range entry.GetAttributeValues("memberOf") {
		if cn := groupCN(dn); cn != "" {
			identity.Groups = append(identity.Groups, cn)
		}
	}
	return identity, nil
}

// bindUser prefers DOMAIN\user style when a NetBIOS domain is configured,
// the plain bind DN otherwise.
func (r *LDAPResolver) bindUser() string {
	if r.cfg.Domain != nil && !strings.Contains(*r.cfg.BindDN, "=") {
		return *r.cfg.Domain + `\` + *r.cfg.BindDN
	}
	return *r.cfg.BindDN
}

// groupCN extracts the leading CN from a group DN like
// "CN=ops,OU=Groups,DC=example,DC=com".
func groupCN(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return ""
	}
	for _, attr := range parsed.RDNs[0].Attributes {
		if strings.EqualFold(attr.Type, "CN") {
			return attr.Value
		}
	}
	return ""
}
