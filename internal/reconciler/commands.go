package reconciler

import (
	"errors"
	"fmt"

	"concierge/internal/models"
)

// Command is one of the direct mutations the host page can request.
// The set is closed: only the types below implement it.
type Command interface {
	ChangeType() models.ChangeType
	isCommand()
}

type AddToQueueCmd struct {
	Entry models.QueueEntry
}

type RemoveFromQueueCmd struct {
	ID int64
}

type AddAppointmentCmd struct {
	Appointment models.Appointment
}

type UpdateAppointmentCmd struct {
	Appointment models.Appointment
}

type DeleteAppointmentCmd struct {
	ID string
}

func (AddToQueueCmd) ChangeType() models.ChangeType        { return models.ChangeAddToQueue }
func (RemoveFromQueueCmd) ChangeType() models.ChangeType   { return models.ChangeRemoveFromQueue }
func (AddAppointmentCmd) ChangeType() models.ChangeType    { return models.ChangeAddAppointment }
func (UpdateAppointmentCmd) ChangeType() models.ChangeType { return models.ChangeUpdateAppointment }
func (DeleteAppointmentCmd) ChangeType() models.ChangeType { return models.ChangeDeleteAppointment }

func (AddToQueueCmd) isCommand()        {}
func (RemoveFromQueueCmd) isCommand()   {}
func (AddAppointmentCmd) isCommand()    {}
func (UpdateAppointmentCmd) isCommand() {}
func (DeleteAppointmentCmd) isCommand() {}

// Dispatch runs a command against the reconciler.
func (r *Reconciler) Dispatch(cmd Command) error {
	switch c := cmd.(type) {
	case AddToQueueCmd:
		return r.AddToQueue(c.Entry)
	case RemoveFromQueueCmd:
		return r.RemoveFromQueue(c.ID)
	case AddAppointmentCmd:
		_, err := r.AddAppointment(c.Appointment)
		return err
	case UpdateAppointmentCmd:
		return r.UpdateAppointment(c.Appointment)
	case DeleteAppointmentCmd:
		return r.DeleteAppointment(c.ID)
	case nil:
		return errors.New("nil command")
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
}

// applyLocked replays a logged change onto the lists without logging it again.
// Replays are idempotent: adding what exists replaces it, removing what is
// missing does nothing.
func (r *Reconciler) applyLocked(change models.PendingChange) error {
	switch change.Type {
	case models.ChangeAddToQueue:
		entry, err := change.QueueEntry()
		if err != nil {
			return err
		}
		if idx := r.queueIndex(entry.ID); idx >= 0 {
			r.queue[idx] = entry
			return nil
		}
		r.queue = append(r.queue, entry)
	case models.ChangeRemoveFromQueue:
		ref, err := change.QueueRef()
		if err != nil {
			return err
		}
		if idx := r.queueIndex(ref.ID); idx >= 0 {
			r.queue = append(r.queue[:idx:idx], r.queue[idx+1:]...)
		}
	case models.ChangeAddAppointment, models.ChangeUpdateAppointment:
		appt, err := change.Appointment()
		if err != nil {
			return err
		}
		if idx := r.appointmentIndex(appt.ID); idx >= 0 {
			r.appointments[idx] = appt
			return nil
		}
		r.appointments = append(r.appointments, appt)
	case models.ChangeDeleteAppointment:
		ref, err := change.AppointmentRef()
		if err != nil {
			return err
		}
		if idx := r.appointmentIndex(ref.ID); idx >= 0 {
			r.appointments = append(r.appointments[:idx:idx], r.appointments[idx+1:]...)
		}
	default:
		return fmt.Errorf("change %s: unknown type %q", change.ID, change.Type)
	}
	return nil
}
