package authcore

import (
	"log"
	"os"
	"strings"
	"sync"
)

// EndpointClassifier maps an HTTP method and path to an endpoint class using
// an ordered list of [ClassRule]s.
type EndpointClassifier struct {
	rules        []ClassRule
	defaultClass string
	logger       *log.Logger

	mu       sync.Mutex
	warned   map[string]struct{}
	maxWarns int
}

// NewEndpointClassifier copies rules. Unmatched requests resolve to
// defaultClass and are logged once per path, up to maxWarnings distinct
// paths. A nil logger logs to stderr.
func NewEndpointClassifier(rules []ClassRule, defaultClass string, maxWarnings int, logger *log.Logger) *EndpointClassifier {
	if logger == nil {
		logger = log.New(os.Stderr, "authcore: ", log.LstdFlags)
	}
	return &EndpointClassifier{
		rules:        append([]ClassRule(nil), rules...),
		defaultClass: defaultClass,
		logger:       logger,
		warned:       make(map[string]struct{}),
		maxWarns:     maxWarnings,
	}
}

// Classify returns the class of the first matching rule. When nothing
// matches it returns the default class and false.
func (c *EndpointClassifier) Classify(method, path string) (string, bool) {
	if c == nil {
		return ClassPublicDefault, false
	}
	for _, r := range c.rules {
		if r.Method != "" && !strings.EqualFold(r.Method, method) {
			continue
		}
		if strings.HasPrefix(path, r.PathPrefix) {
			return r.Class, true
		}
	}

	c.warnUnmatched(method, path)
	return c.defaultClass, false
}

// DefaultClass returns the class used for unmatched requests.
func (c *EndpointClassifier) DefaultClass() string {
	if c == nil {
		return ClassPublicDefault
	}
	return c.defaultClass
}

func (c *EndpointClassifier) warnUnmatched(method, path string) {
	key := strings.ToUpper(method) + " " + path

	c.mu.Lock()
	_, seen := c.warned[key]
	if !seen && len(c.warned) < c.maxWarns {
		c.warned[key] = struct{}{}
	} else {
		seen = true
	}
	c.mu.Unlock()

	if !seen {
		c.logger.Printf("unclassified endpoint %s, using %q", key, c.defaultClass)
	}
}
