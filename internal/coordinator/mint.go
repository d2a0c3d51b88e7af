package coordinator

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mintbind.io/mintbind/internal/identifier"
	apperrors "mintbind.io/mintbind/internal/pkg/errors"
	"mintbind.io/mintbind/internal/pkg/logger"
	"mintbind.io/mintbind/internal/policy"
)

// MintIdentifier mints an identifier under the given qualified prefix,
// dispatching on the prefix's scheme. On success the returned payload
// is the qualified identifier, followed by " | ark:/<shadow>" for
// non-ARK identifiers.
func (c *Coordinator) MintIdentifier(ctx context.Context, prefix string,
	user, group policy.Agent, target string) (string, error) {
	switch {
	case len(prefix) > 4 && prefix[:4] == "doi:":
		s, err := c.MintDoi(ctx, prefix[4:], user, group, target)
		if err != nil {
			return "", err
		}
		return "doi:" + s, nil
	case len(prefix) > 5 && prefix[:5] == "ark:/":
		s, err := c.MintArk(ctx, prefix[5:], user, group, target)
		if err != nil {
			return "", err
		}
		return "ark:/" + s, nil
	case prefix == "urn:uuid:":
		s, err := c.MintUrnUuid(ctx, user, group, target)
		if err != nil {
			return "", err
		}
		return "urn:uuid:" + s, nil
	default:
		return "", apperrors.BadRequest(apperrors.CodeUnknownScheme,
			"unrecognized identifier scheme")
	}
}

// CreateIdentifier creates the given qualified identifier, dispatching
// on its scheme. The payload format matches MintIdentifier.
func (c *Coordinator) CreateIdentifier(ctx context.Context, qid string,
	user, group policy.Agent, target string) (string, error) {
	switch {
	case len(qid) > 4 && qid[:4] == "doi:":
		s, err := c.CreateDoi(ctx, qid[4:], user, group, target)
		if err != nil {
			return "", err
		}
		return "doi:" + s, nil
	case len(qid) > 5 && qid[:5] == "ark:/":
		s, err := c.CreateArk(ctx, qid[5:], user, group, target)
		if err != nil {
			return "", err
		}
		return "ark:/" + s, nil
	case len(qid) > 9 && qid[:9] == "urn:uuid:":
		s, err := c.CreateUrnUuid(ctx, qid[9:], user, group, target)
		if err != nil {
			return "", err
		}
		return "urn:uuid:" + s, nil
	default:
		return "", apperrors.BadRequest(apperrors.CodeUnknownScheme,
			"unrecognized identifier scheme")
	}
}

// MintDoi mints a DOI under the given scheme-less prefix. The shoulder
// minter draws shadow ARK names; the DOI is the reverse mapping of the
// drawn name. Authorization is checked against the prefix before any
// name is drawn, so a denied request consumes nothing from the minter.
func (c *Coordinator) MintDoi(ctx context.Context, prefix string,
	user, group policy.Agent, target string) (string, error) {
	entry, ok := c.prefixes()["doi:"+prefix]
	if !ok {
		return "", apperrors.BadRequest(apperrors.CodeUnknownPrefix,
			"unrecognized DOI prefix")
	}
	if !c.authz.AuthorizeCreate(user, group, "doi:"+prefix) {
		return "", apperrors.Unauthorized(apperrors.CodeUnauthorized,
			"not authorized to create")
	}
	if !entry.Minter.Available() {
		return "", apperrors.BadRequest(apperrors.CodeMinterUnavailable,
			"no minter for namespace")
	}
	shadowArk, err := entry.Minter.Mint(ctx)
	if err != nil {
		return "", internalErr(err, "minter draw failed")
	}
	doi, err := identifier.Shadow2Doi(shadowArk)
	if err != nil {
		return "", internalErr(err, "minted name is not a shadow ARK")
	}
	if !strings.HasPrefix(doi, prefix) {
		return "", internalErr(nil, "minted name does not match shoulder")
	}
	return c.CreateDoi(ctx, doi, user, group, target)
}

// CreateDoi creates the given scheme-less DOI. Registration with the
// DOI registrar precedes the store write; on success the payload is
// "<doi> | ark:/<shadow>".
func (c *Coordinator) CreateDoi(ctx context.Context, doi string,
	user, group policy.Agent, target string) (string, error) {
	doi, err := identifier.ValidateDoi(doi)
	if err != nil {
		return "", err
	}
	qdoi := "doi:" + doi
	shadowArk := identifier.Doi2Shadow(doi)

	txn := logger.Begin("createDoi",
		zap.String("identifier", qdoi),
		zap.String("user", user.Name))
	c.beginOp(user.Name)
	defer c.endOp(user.Name)
	c.locks.Acquire(shadowArk, user.Name)
	defer c.locks.Release(shadowArk)

	if !c.authz.AuthorizeCreate(user, group, qdoi) {
		return "", fail(txn, apperrors.Unauthorized(apperrors.CodeUnauthorized,
			"not authorized to create"))
	}
	exists, err := c.store.Exists(ctx, shadowArk)
	if err != nil {
		return "", fail(txn, internalErr(err, "store existence check failed"))
	}
	if exists {
		return "", fail(txn, apperrors.BadRequest(apperrors.CodeAlreadyExists,
			"identifier already exists"))
	}

	if target == "" {
		target = c.selfTarget(qdoi)
	}
	arkTarget := c.arkTarget(shadowArk)
	if err := c.dc.RegisterIdentifier(ctx, doi, target); err != nil {
		return "", fail(txn, internalErr(err, "registrar registration failed"))
	}
	if err := c.store.Hold(ctx, shadowArk); err != nil {
		return "", fail(txn, internalErr(err, "store hold failed"))
	}
	now := nowStamp()
	elements := map[string]string{
		"_o":  user.PID,
		"_g":  group.PID,
		"_c":  now,
		"_u":  now,
		"_t":  arkTarget,
		"_s":  qdoi,
		"_su": now,
		"_st": target,
		"_p":  c.settings().DefaultDoiProfile,
	}
	if err := c.store.Set(ctx, shadowArk, elements); err != nil {
		return "", fail(txn, internalErr(err, "store write failed"))
	}
	txn.Success(zap.String("shadow", shadowArk))
	return doi + " | ark:/" + shadowArk, nil
}

// MintArk mints an ARK under the given scheme-less prefix.
func (c *Coordinator) MintArk(ctx context.Context, prefix string,
	user, group policy.Agent, target string) (string, error) {
	entry, ok := c.prefixes()["ark:/"+prefix]
	if !ok {
		return "", apperrors.BadRequest(apperrors.CodeUnknownPrefix,
			"unrecognized ARK prefix")
	}
	if !c.authz.AuthorizeCreate(user, group, "ark:/"+prefix) {
		return "", apperrors.Unauthorized(apperrors.CodeUnauthorized,
			"not authorized to create")
	}
	if !entry.Minter.Available() {
		return "", apperrors.BadRequest(apperrors.CodeMinterUnavailable,
			"no minter for namespace")
	}
	ark, err := entry.Minter.Mint(ctx)
	if err != nil {
		return "", internalErr(err, "minter draw failed")
	}
	if len(ark) < len(prefix) || ark[:len(prefix)] != prefix {
		return "", internalErr(nil, "minted name does not match shoulder")
	}
	return c.CreateArk(ctx, ark, user, group, target)
}

// CreateArk creates the given scheme-less ARK. On success the payload
// is the canonical scheme-less ARK.
func (c *Coordinator) CreateArk(ctx context.Context, ark string,
	user, group policy.Agent, target string) (string, error) {
	ark, err := identifier.ValidateArk(ark)
	if err != nil {
		return "", err
	}
	qark := "ark:/" + ark

	txn := logger.Begin("createArk",
		zap.String("identifier", qark),
		zap.String("user", user.Name))
	c.beginOp(user.Name)
	defer c.endOp(user.Name)
	c.locks.Acquire(ark, user.Name)
	defer c.locks.Release(ark)

	if !c.authz.AuthorizeCreate(user, group, qark) {
		return "", fail(txn, apperrors.Unauthorized(apperrors.CodeUnauthorized,
			"not authorized to create"))
	}
	exists, err := c.store.Exists(ctx, ark)
	if err != nil {
		return "", fail(txn, internalErr(err, "store existence check failed"))
	}
	if exists {
		return "", fail(txn, apperrors.BadRequest(apperrors.CodeAlreadyExists,
			"identifier already exists"))
	}

	if target == "" {
		target = c.selfTarget(qark)
	}
	if err := c.store.Hold(ctx, ark); err != nil {
		return "", fail(txn, internalErr(err, "store hold failed"))
	}
	now := nowStamp()
	elements := map[string]string{
		"_o": user.PID,
		"_g": group.PID,
		"_c": now,
		"_u": now,
		"_t": target,
		"_p": c.settings().DefaultArkProfile,
	}
	if err := c.store.Set(ctx, ark, elements); err != nil {
		return "", fail(txn, internalErr(err, "store write failed"))
	}
	txn.Success()
	return ark, nil
}

// MintUrnUuid mints a UUID URN. The name is generated locally; no
// external minter is involved.
func (c *Coordinator) MintUrnUuid(ctx context.Context,
	user, group policy.Agent, target string) (string, error) {
	return c.CreateUrnUuid(ctx, uuid.NewString(), user, group, target)
}

// CreateUrnUuid creates the given scheme-less UUID URN. On success the
// payload is "<urn> | ark:/<shadow>".
func (c *Coordinator) CreateUrnUuid(ctx context.Context, urn string,
	user, group policy.Agent, target string) (string, error) {
	urn, err := identifier.ValidateUrnUuid(urn)
	if err != nil {
		return "", err
	}
	qurn := "urn:uuid:" + urn
	shadowArk := identifier.UrnUuid2Shadow(urn)

	txn := logger.Begin("createUrnUuid",
		zap.String("identifier", qurn),
		zap.String("user", user.Name))
	c.beginOp(user.Name)
	defer c.endOp(user.Name)
	c.locks.Acquire(shadowArk, user.Name)
	defer c.locks.Release(shadowArk)

	if !c.authz.AuthorizeCreate(user, group, "urn:uuid:") {
		return "", fail(txn, apperrors.Unauthorized(apperrors.CodeUnauthorized,
			"not authorized to create"))
	}
	exists, err := c.store.Exists(ctx, shadowArk)
	if err != nil {
		return "", fail(txn, internalErr(err, "store existence check failed"))
	}
	if exists {
		return "", fail(txn, apperrors.BadRequest(apperrors.CodeAlreadyExists,
			"identifier already exists"))
	}

	if target == "" {
		target = c.selfTarget(qurn)
	}
	arkTarget := c.arkTarget(shadowArk)
	if err := c.store.Hold(ctx, shadowArk); err != nil {
		return "", fail(txn, internalErr(err, "store hold failed"))
	}
	now := nowStamp()
	elements := map[string]string{
		"_o":  user.PID,
		"_g":  group.PID,
		"_c":  now,
		"_u":  now,
		"_t":  arkTarget,
		"_s":  qurn,
		"_su": now,
		"_st": target,
		"_p":  c.settings().DefaultUrnUuidProfile,
	}
	if err := c.store.Set(ctx, shadowArk, elements); err != nil {
		return "", fail(txn, internalErr(err, "store write failed"))
	}
	txn.Success(zap.String("shadow", shadowArk))
	return urn + " | ark:/" + shadowArk, nil
}
