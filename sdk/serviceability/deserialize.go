package serviceability

func DeserializeLocation(reader *ByteReader, loc *Location) {
	loc.AccountType = AccountType(reader.ReadU8())
	loc.Owner = reader.ReadBytes32()
	loc.BumpSeed = reader.ReadU8()
	loc.Lat = reader.ReadF64()
	loc.Lng = reader.ReadF64()
	loc.LocID = reader.ReadU32()
	loc.Status = LocationStatus(reader.ReadU8())
	loc.Code = reader.ReadString()
	loc.Name = reader.ReadString()
	loc.Country = reader.ReadString()
	loc.ReferenceCount = reader.ReadU32()
}

func DeserializeExchange(reader *ByteReader, exchange *Exchange) {
	exchange.AccountType = AccountType(reader.ReadU8())
	exchange.Owner = reader.ReadBytes32()
	exchange.BumpSeed = reader.ReadU8()
	exchange.Lat = reader.ReadF64()
	exchange.Lng = reader.ReadF64()
	exchange.BgpCommunity = reader.ReadU16()
	exchange.Status = ExchangeStatus(reader.ReadU8())
	exchange.Code = reader.ReadString()
	exchange.Name = reader.ReadString()
	exchange.ReferenceCount = reader.ReadU32()
}

func DeserializeDevice(reader *ByteReader, device *Device) {
	device.AccountType = AccountType(reader.ReadU8())
	device.Owner = reader.ReadBytes32()
	device.BumpSeed = reader.ReadU8()
	device.LocationPubKey = reader.ReadPubkey()
	device.ExchangePubKey = reader.ReadPubkey()
	device.PublicIP = reader.ReadIPv4()
	device.Status = DeviceStatus(reader.ReadU8())
	device.Code = reader.ReadString()
	device.MetricsPublisherPubKey = reader.ReadPubkey()
	device.ContributorPubKey = reader.ReadPubkey()
	device.MaxUsers = reader.ReadU16()
	device.UsersCount = reader.ReadU16()
}

func DeserializeLink(reader *ByteReader, link *Link) {
	link.AccountType = AccountType(reader.ReadU8())
	link.Owner = reader.ReadBytes32()
	link.BumpSeed = reader.ReadU8()
	link.SideAPubKey = reader.ReadPubkey()
	link.SideZPubKey = reader.ReadPubkey()
	link.Bandwidth = reader.ReadU64()
	link.Mtu = reader.ReadU32()
	link.DelayNs = reader.ReadU64()
	link.JitterNs = reader.ReadU64()
	link.Status = LinkStatus(reader.ReadU8())
	link.Code = reader.ReadString()
	link.ContributorPubKey = reader.ReadPubkey()
}

func DeserializeContributor(reader *ByteReader, contributor *Contributor) {
	contributor.AccountType = AccountType(reader.ReadU8())
	contributor.Owner = reader.ReadBytes32()
	contributor.BumpSeed = reader.ReadU8()
	contributor.Status = ContributorStatus(reader.ReadU8())
	contributor.Code = reader.ReadString()
	contributor.ReferenceCount = reader.ReadU32()
}
