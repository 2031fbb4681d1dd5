package schema

import (
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// filename picks the unit's file path: "<key>.proto" for a manifest unit,
// "<key>_<salt>.proto" otherwise. The deterministic salt is the triggering
// type's local name lower-cased.
func (c *Context) filename(u *FileUnit, trigger string) string {
	if len(u.Manifest) > 0 {
		return u.Key + ".proto"
	}
	if c.salt == SaltDeterministic {
		name := u.Key + "_" + saltToken(trigger) + ".proto"
		if !c.pathTaken(name) {
			return name
		}
		log.Debug("deterministic salt taken, using a random one", zap.String("file", name))
	}
	for {
		name := u.Key + "_" + randomSalt() + ".proto"
		if !c.pathTaken(name) {
			return name
		}
	}
}

// saltToken reduces a type path ("Outer.Inner") or unit file to its last
// name, lower-cased.
func saltToken(trigger string) string {
	return strings.ToLower(localName(path.Base(trimProto(trigger))))
}

// randomSalt is the first group of a random UUID: 8 lowercase hex digits.
func randomSalt() string {
	return uuid.NewString()[:8]
}

func (c *Context) pathTaken(name string) bool {
	_, err := c.resolver().FindFileByPath(name)
	return err == nil
}
