// Package directory resolves usernames to SSH public keys through LDAP.
// Keys are fetched fresh on every authentication attempt; nothing is cached
// so directory changes take effect on the next login.
package directory

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/crypto/ssh"

	"siranga/internal/config"
	"siranga/internal/fileutil"
	"siranga/internal/logger"
)

var (
	ErrUnavailable = errors.New("directory unavailable")
	ErrAmbiguous   = errors.New("ambiguous directory entry")
)

const keyAttribute = "sshPublicKey"

// Usernames are substituted into the search filter verbatim, so only a
// conservative character set is accepted in the first place.
var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// conn is the slice of *ldap.Conn the client uses, split out so tests can
// substitute an in-memory directory.
type conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

type Client struct {
	address      string
	baseDN       string
	searchFilter string
	bindDN       string
	password     string

	dial func(address string) (conn, error)
}

// NewClient builds a directory client from the configuration, reading the
// bind password from the configured secret file.
func NewClient(cfg *config.Config) (*Client, error) {
	password, err := fileutil.ReadSecret(cfg.LDAPPasswordFile)
	if err != nil {
		return nil, err
	}

	return &Client{
		address:      cfg.LDAPAddress,
		baseDN:       cfg.LDAPBase,
		searchFilter: cfg.LDAPSearchFilter,
		bindDN:       cfg.LDAPBindDN,
		password:     password,
		dial: func(address string) (conn, error) {
			return ldap.DialURL(address)
		},
	}, nil
}

// LookupKeys returns the public keys stored for username. The empty set with
// a nil error means the directory answered and knows no keys for the user;
// transport problems wrap ErrUnavailable and more than one matching entry
// wraps ErrAmbiguous.
func (c *Client) LookupKeys(username string) ([]ssh.PublicKey, error) {
	if !usernamePattern.MatchString(username) {
		logger.Debugf("Rejecting directory lookup for malformed username %q", username)
		return nil, nil
	}

	ldapConn, err := c.dial(c.address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, c.address, err)
	}
	defer ldapConn.Close()

	if err := ldapConn.Bind(c.bindDN, c.password); err != nil {
		return nil, fmt.Errorf("%w: bind as %s: %v", ErrUnavailable, c.bindDN, err)
	}

	filter := strings.ReplaceAll(c.searchFilter, "{username}", username)
	result, err := ldapConn.Search(ldap.NewSearchRequest(
		c.baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		[]string{keyAttribute},
		nil,
	))
	if err != nil {
		return nil, fmt.Errorf("%w: search %q: %v", ErrUnavailable, filter, err)
	}

	switch len(result.Entries) {
	case 0:
		logger.Debugf("No directory entry for user %s", username)
		return nil, nil
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d entries match %q", ErrAmbiguous, len(result.Entries), filter)
	}

	var keys []ssh.PublicKey
	for _, value := range result.Entries[0].GetAttributeValues(keyAttribute) {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(value))
		if err != nil {
			logger.Warnf("Skipping unparseable key for user %s: %v", username, err)
			continue
		}
		keys = append(keys, key)
	}

	logger.Debugf("Directory returned %d keys for user %s", len(keys), username)
	return keys, nil
}
