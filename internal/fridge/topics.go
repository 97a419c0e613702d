package fridge

const (
	TopicSaleSettled   = "fridge.sale.settled"
	TopicDoorUnlocked  = "fridge.door.unlocked"
	TopicRestockNeeded = "fridge.restock.needed"
)

// Partition key = machine_id so every event of one fridge stays ordered.
func PartitionKey(machineID string) []byte { return []byte(machineID) }
