package coordinator

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"mintbind.io/mintbind/internal/identifier"
	"mintbind.io/mintbind/internal/idmap"
	apperrors "mintbind.io/mintbind/internal/pkg/errors"
	"mintbind.io/mintbind/internal/pkg/logger"
	"mintbind.io/mintbind/internal/policy"
)

// legalUnqualifiedElements are the reserved element names any
// authorized updater may set; all other reserved names require the
// administrator, who supplies them in stored form.
var legalUnqualifiedElements = map[string]struct{}{
	"_coowners": {},
	"_target":   {},
	"_profile":  {},
}

// splitAgentList splits a stored "pid ; pid ; ..." value.
func splitAgentList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetMetadata returns the canonical qualified form of the identifier
// and its metadata as name/value pairs in transmitted form. Reads
// require no authorization.
func (c *Coordinator) GetMetadata(ctx context.Context, qid string,
	user policy.Agent) (string, map[string]string, error) {
	id, err := identifier.Parse(qid)
	if err != nil {
		return "", nil, err
	}
	nq := id.Qualified()
	ark := id.ShadowArk()

	txn := logger.Begin("getMetadata",
		zap.String("identifier", nq),
		zap.String("user", user.Name))
	c.beginOp(user.Name)
	defer c.endOp(user.Name)
	c.locks.Acquire(ark, user.Name)
	defer c.locks.Release(ark)

	stored, err := c.store.Get(ctx, ark)
	if err != nil {
		return "", nil, fail(txn, internalErr(err, "store read failed"))
	}
	if stored == nil {
		return "", nil, fail(txn, apperrors.BadRequest(
			apperrors.CodeNoSuchIdentifier, "no such identifier"))
	}

	// Project stored form to transmitted form. An ARK view hides the
	// shadowed identifier's slots; a non-ARK view hides the ARK's own
	// slots and announces the shadow.
	if id.IsArk() {
		delete(stored, "_su")
		delete(stored, "_st")
	} else {
		delete(stored, "_u")
		delete(stored, "_t")
		delete(stored, "_s")
	}
	d := make(map[string]string, len(stored)+2)
	for k, v := range stored {
		if t, ok := labelMapping[k]; ok {
			d[t] = v
		} else {
			d[k] = v
		}
	}
	if !id.IsArk() {
		d["_shadowedby"] = "ark:/" + ark
	}

	// Agent PIDs read back as local names.
	if pid, ok := d["_owner"]; ok {
		name, _, err := c.dir.GetAgent(pid)
		if err != nil {
			return "", nil, fail(txn, internalErr(err, "owner resolution failed"))
		}
		d["_owner"] = name
	}
	if pid, ok := d["_ownergroup"]; ok {
		name, _, err := c.dir.GetAgent(pid)
		if err != nil {
			return "", nil, fail(txn, internalErr(err, "owner group resolution failed"))
		}
		d["_ownergroup"] = name
	}
	if v, ok := d["_coowners"]; ok {
		var names []string
		for _, pid := range splitAgentList(v) {
			name, _, err := c.dir.GetAgent(pid)
			if err != nil {
				return "", nil, fail(txn, internalErr(err, "co-owner resolution failed"))
			}
			names = append(names, name)
		}
		d["_coowners"] = strings.Join(names, " ; ")
	}
	if _, ok := d["_status"]; !ok {
		d["_status"] = "public"
	}

	txn.Success()
	return nq, d, nil
}

// SetMetadata sets metadata elements on an identifier. Element names
// and values are merged into existing metadata; an element value of ""
// deletes the element.
//
// updateExternalServices suppresses registrar side effects and
// registration enqueueing; the registration daemon clears it when
// writing result elements back, as those writes must not re-trigger
// registration.
func (c *Coordinator) SetMetadata(ctx context.Context, qid string,
	user, group policy.Agent, metadata map[string]string,
	updateExternalServices bool) (string, error) {
	id, err := identifier.Parse(qid)
	if err != nil {
		return "", err
	}
	nq := id.Qualified()
	ark := id.ShadowArk()
	s := c.settings()
	admin := user.Name == s.AdminUsername

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if strings.TrimSpace(k) == "" {
			return "", apperrors.BadRequest(apperrors.CodeEmptyElement,
				"empty element name")
		}
		if !admin && strings.HasPrefix(k, "_") {
			if _, ok := legalUnqualifiedElements[k]; !ok {
				return "", apperrors.BadRequest(apperrors.CodeReservedElement,
					"use of reserved metadata element name")
			}
		}
		md[k] = v
	}
	if rec, ok := md["datacite"]; ok {
		norm, err := c.dc.ValidateDcmsRecord(nq, rec)
		if err != nil {
			return "", apperrors.BadRequest(apperrors.CodeDataciteInvalid,
				"element 'datacite': "+oneline(err.Error()))
		}
		md["datacite"] = norm
	}

	txn := logger.Begin("setMetadata",
		zap.String("identifier", nq),
		zap.String("user", user.Name),
		zap.Int("elements", len(md)))
	c.beginOp(user.Name)
	defer c.endOp(user.Name)
	c.locks.Acquire(ark, user.Name)
	defer c.locks.Release(ark)

	m, err := c.store.Get(ctx, ark)
	if err != nil {
		return "", fail(txn, internalErr(err, "store read failed"))
	}
	if m == nil {
		return "", fail(txn, apperrors.BadRequest(
			apperrors.CodeNoSuchIdentifier, "no such identifier"))
	}

	ownerPID := m["_o"]
	groupPID := m["_g"]
	iCoOwners := splitAgentList(m["_co"])

	ownerName, _, err := c.dir.GetAgent(ownerPID)
	if err != nil {
		return "", fail(txn, internalErr(err, "owner resolution failed"))
	}
	groupName, _, err := c.dir.GetAgent(groupPID)
	if err != nil {
		return "", fail(txn, internalErr(err, "owner group resolution failed"))
	}
	coAgents := make([]policy.Agent, 0, len(iCoOwners))
	for _, pid := range iCoOwners {
		name, _, err := c.dir.GetAgent(pid)
		if err != nil {
			return "", fail(txn, internalErr(err, "co-owner resolution failed"))
		}
		coAgents = append(coAgents, policy.Agent{Name: name, PID: pid})
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	if !c.authz.AuthorizeUpdate(user, group, nq,
		policy.Agent{Name: ownerName, PID: ownerPID},
		policy.Agent{Name: groupName, PID: groupPID},
		coAgents, keys) {
		return "", fail(txn, apperrors.Unauthorized(apperrors.CodeUnauthorized,
			"not authorized to update"))
	}

	// Co-owner list: a supplied _coowners value replaces the stored
	// list wholesale. Names arrive as local names and are stored as
	// agent PIDs. A non-owner updater is recorded as a co-owner even
	// when no _coowners value was supplied.
	var coOwners []string
	coProvided := false
	if v, ok := md["_coowners"]; ok {
		delete(md, "_coowners")
		coProvided = true
		for _, name := range strings.Split(v, ";") {
			name = strings.TrimSpace(name)
			if name == "" || name == "anonymous" || name == s.AdminUsername {
				continue
			}
			pid, err := c.dir.GetUserID(name)
			if err != nil {
				if idmap.IsUnknownUser(err) {
					return "", fail(txn, apperrors.BadRequest(
						apperrors.CodeUnknownUser, "no such user in co-owner list"))
				}
				return "", fail(txn, internalErr(err, "co-owner lookup failed"))
			}
			if pid != ownerPID && !slices.Contains(coOwners, pid) {
				coOwners = append(coOwners, pid)
			}
		}
	}
	if !admin && user.PID != ownerPID {
		if !coProvided {
			coOwners = append(coOwners, iCoOwners...)
			coProvided = true
		}
		if !slices.Contains(coOwners, user.PID) {
			coOwners = append(coOwners, user.PID)
		}
	}

	profile := ""
	profileProvided := false
	if v, ok := md["_profile"]; ok {
		delete(md, "_profile")
		profileProvided = true
		if v == "" {
			switch id.Scheme {
			case identifier.SchemeDoi:
				v = s.DefaultDoiProfile
			case identifier.SchemeUrnUuid:
				v = s.DefaultUrnUuidProfile
			default:
				v = s.DefaultArkProfile
			}
		}
		profile = v
	}

	now := nowStamp()
	switch id.Scheme {
	case identifier.SchemeDoi:
		// The target slot joins md only after the upload decision; a
		// target-only update carries no registrar metadata.
		target, hasTarget := md["_target"]
		if hasTarget {
			delete(md, "_target")
			if target == "" {
				target = c.selfTarget(nq)
			}
			if updateExternalServices {
				if err := c.dc.SetTargetUrl(ctx, id.Name, target); err != nil {
					return "", fail(txn, internalErr(err, "registrar target update failed"))
				}
			}
		}
		if updateExternalServices && len(md) > 0 {
			message, err := c.dc.UploadMetadata(ctx, id.Name, m, md)
			if err != nil {
				return "", fail(txn, internalErr(err, "registrar metadata upload failed"))
			}
			if message != "" {
				return "", fail(txn, apperrors.BadRequest(
					apperrors.CodeDataciteInvalid,
					"element 'datacite': "+oneline(message)))
			}
		}
		if hasTarget {
			md["_st"] = target
		}
		// The administrator may supply the update timestamp directly.
		if _, ok := md["_su"]; !ok {
			md["_su"] = now
		}
	case identifier.SchemeArk:
		target, hasTarget := md["_target"]
		if hasTarget {
			delete(md, "_target")
			if target == "" {
				target = c.selfTarget(nq)
			}
		}
		// Updating a shadow ARK updates the shadowed DOI's registrar
		// metadata as well.
		if sdoi, ok := m["_s"]; ok && strings.HasPrefix(sdoi, "doi:") &&
			updateExternalServices && len(md) > 0 {
			message, err := c.dc.UploadMetadata(ctx, sdoi[4:], m, md)
			if err != nil {
				return "", fail(txn, internalErr(err, "registrar metadata upload failed"))
			}
			if message != "" {
				return "", fail(txn, apperrors.BadRequest(
					apperrors.CodeDataciteInvalid,
					"element 'datacite': "+oneline(message)))
			}
		}
		if hasTarget {
			md["_t"] = target
		}
		if _, ok := md["_u"]; !ok {
			md["_u"] = now
		}
	case identifier.SchemeUrnUuid:
		if v, ok := md["_target"]; ok {
			delete(md, "_target")
			if v == "" {
				v = c.selfTarget(nq)
			}
			md["_st"] = v
		}
		if _, ok := md["_su"]; !ok {
			md["_su"] = now
		}
	}
	if coProvided {
		md["_co"] = strings.Join(coOwners, " ; ")
	}
	if profileProvided {
		md["_p"] = profile
	}

	if err := c.store.Set(ctx, ark, md); err != nil {
		return "", fail(txn, internalErr(err, "store write failed"))
	}

	if updateExternalServices && s.CrossrefEnabled {
		if err := c.enqueueRegistration(ctx, id, m, md); err != nil {
			return "", fail(txn, internalErr(err, "registration enqueue failed"))
		}
	}

	txn.Success()
	return nq, nil
}

// enqueueRegistration inserts a registration intent for a DOI whose
// metadata carries a crossref element. The blob is the post-write
// element map in stored form; duplicate intents for the same
// identifier are coalesced by the daemon, so every write simply
// enqueues.
func (c *Coordinator) enqueueRegistration(ctx context.Context,
	id identifier.Identifier, before, delta map[string]string) error {
	merged := make(map[string]string, len(before)+len(delta))
	for k, v := range before {
		merged[k] = v
	}
	for k, v := range delta {
		if strings.TrimSpace(v) == "" {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}
	if _, ok := merged["crossref"]; !ok {
		return nil
	}
	var qdoi string
	switch {
	case id.Scheme == identifier.SchemeDoi:
		qdoi = id.Qualified()
	case strings.HasPrefix(merged["_s"], "doi:"):
		qdoi = merged["_s"]
	default:
		return nil
	}
	// The first write that introduces a crossref element is the
	// identifier's initial registration.
	operation := "update"
	if _, ok := before["crossref"]; !ok {
		operation = "create"
	}
	// Queue rows carry the owner's local name; the daemon uses it as
	// the registrant and for notification lookup.
	owner, _, err := c.dir.GetAgent(merged["_o"])
	if err != nil {
		return err
	}
	return c.queue.Enqueue(ctx, qdoi, operation, owner, merged)
}
