package vera

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Lock struct {
	*Device
}

// PinCode is one active user code slot on a lock.
type PinCode struct {
	Slot int    `json:"slot"`
	Name string `json:"name"`
	Pin  string `json:"pin"`
}

// LockUser identifies who last operated the lock.
type LockUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var userCodePattern = regexp.MustCompile(`UserID="(\d*)"\s+UserName="([^"]*)"`)

func (l *Lock) Lock(ctx context.Context) error {
	return l.setTarget(ctx, "1")
}

func (l *Lock) Unlock(ctx context.Context) error {
	return l.setTarget(ctx, "0")
}

func (l *Lock) setTarget(ctx context.Context, value string) error {
	return l.send(ctx, Command{
		Service: ServiceDoorLock,
		Action:  "SetTarget",
		Params:  map[string]string{"newTargetValue": value},
	}, map[string]string{"locked": value})
}

func (l *Lock) IsLocked() bool {
	return l.boolValue("locked")
}

// PinCodes parses the pincodes attribute: a tab separated list whose first
// field is a header, each entry "slot,active,_,_,pin,name;...".
func (l *Lock) PinCodes() []PinCode {
	raw, ok := l.Value("pincodes")
	if !ok {
		return nil
	}
	return parsePinCodes(raw)
}

func parsePinCodes(raw string) []PinCode {
	fields := strings.Split(strings.TrimRight(raw, " \t\r\n"), "\t")
	if len(fields) < 2 {
		return nil
	}

	var codes []PinCode
	for _, field := range fields[1:] {
		entry, _, _ := strings.Cut(field, ";")
		parts := strings.Split(entry, ",")
		if len(parts) < 6 {
			continue
		}
		if parts[1] == "0" {
			continue
		}
		slot, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		codes = append(codes, PinCode{Slot: slot, Pin: parts[4], Name: parts[5]})
	}
	return codes
}

func (l *Lock) SetNewPin(ctx context.Context, name, pin string) error {
	if name == "" || pin == "" {
		return fmt.Errorf("name and pin are required: %w", ErrInvalidValue)
	}
	return l.send(ctx, Command{
		Service: ServiceDoorLock,
		Action:  "SetPin",
		Params:  map[string]string{"UserCodeName": name, "newPin": pin},
	}, nil)
}

func (l *Lock) ClearSlotPin(ctx context.Context, slot int) error {
	if slot <= 0 {
		return fmt.Errorf("slot %d: %w", slot, ErrInvalidValue)
	}
	return l.send(ctx, Command{
		Service: ServiceDoorLock,
		Action:  "ClearPin",
		Params:  map[string]string{"UserCode": strconv.Itoa(slot)},
	}, nil)
}

// LastUser reads sl_UserCode, e.g. `UserID="3" UserName="Guest"`.
func (l *Lock) LastUser() (LockUser, bool) {
	raw, ok := l.ComplexValue("sl_UserCode")
	if !ok {
		return LockUser{}, false
	}
	m := userCodePattern.FindStringSubmatch(raw)
	if m == nil {
		return LockUser{}, false
	}
	return LockUser{ID: m[1], Name: m[2]}, true
}

func (l *Lock) PinFailed() bool {
	return l.complexFlag("sl_PinFailed")
}

func (l *Lock) LockFailed() bool {
	return l.complexFlag("sl_LockFailure")
}

func (l *Lock) UnauthUser() bool {
	return l.complexFlag("sl_UnauthUser")
}

func (l *Lock) complexFlag(variable string) bool {
	v, _ := l.ComplexValue(variable)
	return v == "1"
}
